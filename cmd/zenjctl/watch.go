package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"

	"zenj-service/internal/models"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Stream messages and typing indicators for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		conn, _, err := websocket.Dial(ctx, watchURL(client, args[0]), nil)
		if err != nil {
			return fmt.Errorf("websocket dial: %w", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "client disconnect")

		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s. Ctrl-C to stop.\n", args[0])
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			if jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				continue
			}
			if line := formatEvent(data); line != "" {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
		}
	},
}

func watchURL(c *apiClient, conversationID string) string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws/conversations/" + url.PathEscape(conversationID) + "?user_id=" + url.QueryEscape(c.userID)
}

// formatEvent renders one realtime envelope, or "" for events not shown.
func formatEvent(data []byte) string {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	switch env.Type {
	case models.EventMessageNew, models.EventMessageUpdated:
		var m models.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return ""
		}
		var b strings.Builder
		printMessage(&b, m)
		return strings.TrimRight(b.String(), "\n")
	case models.EventTyping, models.EventPresence:
		var p models.PresenceEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return ""
		}
		return fmt.Sprintf("* %s %s", p.ActorID, p.Kind)
	case models.EventRoomClosed:
		return "* conversation closed"
	}
	return ""
}

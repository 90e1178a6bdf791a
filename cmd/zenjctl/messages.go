package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"zenj-service/internal/engine"
	"zenj-service/internal/models"
)

var (
	sendType     string
	sendMediaRef string
	sendAsync    bool

	messagesAfter int64
	messagesLimit int
)

func init() {
	rootCmd.AddCommand(sendCmd, messagesCmd, reactCmd, statusCmd, stateCmd)

	sendCmd.Flags().StringVar(&sendType, "type", string(models.MessageText), "message type: text, image or audio")
	sendCmd.Flags().StringVar(&sendMediaRef, "media", "", "opaque media reference for image and audio messages")
	sendCmd.Flags().BoolVar(&sendAsync, "async", false, "return as soon as the message is stored")

	messagesCmd.Flags().Int64Var(&messagesAfter, "after", 0, "cursor: list messages after this position")
	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "page size (server default when 0)")
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text]",
	Short: "Send a message and wait for the reply",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		out := models.OutgoingMessage{
			Type:            models.MessageType(sendType),
			MediaRef:        sendMediaRef,
			ClientMessageID: uuid.NewString(),
		}
		if len(args) == 2 {
			out.Content = args[1]
		}
		var query url.Values
		if sendAsync {
			query = url.Values{"async": {"true"}}
		}

		raw, err := client.do(cmd.Context(), http.MethodPost, "/conversations/"+args[0]+"/messages", query, out, nil)
		var apiErr *apiError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusBadGateway) {
			return err
		}
		if jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		}
		if sendAsync {
			fmt.Fprintln(cmd.OutOrStdout(), "Sent. The reply will arrive in the conversation.")
			return nil
		}

		res, derr := decodeSendResult(raw, apiErr != nil)
		if derr != nil {
			return derr
		}
		printMessage(cmd.OutOrStdout(), res.Message)
		if res.Reply != nil {
			printMessage(cmd.OutOrStdout(), *res.Reply)
		}
		if res.Failure != nil {
			printMessage(cmd.OutOrStdout(), *res.Failure)
		}
		return err
	},
}

// decodeSendResult reads a send response. A failed turn nests the result
// under "result".
func decodeSendResult(raw []byte, failed bool) (engine.Result, error) {
	if failed {
		var wrapped struct {
			Result engine.Result `json:"result"`
		}
		err := json.Unmarshal(raw, &wrapped)
		return wrapped.Result, err
	}
	var res engine.Result
	err := json.Unmarshal(raw, &res)
	return res, err
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print a page of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		query := url.Values{}
		if messagesAfter > 0 {
			query.Set("after", strconv.FormatInt(messagesAfter, 10))
		}
		if messagesLimit > 0 {
			query.Set("limit", strconv.Itoa(messagesLimit))
		}
		var page models.Page
		raw, err := client.do(cmd.Context(), http.MethodGet, "/conversations/"+args[0]+"/messages", query, nil, &page)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		}
		for _, m := range page.Messages {
			printMessage(cmd.OutOrStdout(), m)
		}
		if page.Next > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "-- more: --after %d\n", page.Next)
		}
		return nil
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <message-id> <emoji>",
	Short: "React to a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		var m models.Message
		if _, err := client.do(cmd.Context(), http.MethodPost, "/messages/"+args[0]+"/reactions", nil, map[string]string{"emoji": args[1]}, &m); err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), m)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <message-id> <delivered|read>",
	Short: "Advance a message's delivery status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		var m models.Message
		if _, err := client.do(cmd.Context(), http.MethodPut, "/messages/"+args[0]+"/status", nil, map[string]string{"status": args[1]}, &m); err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), m)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <conversation-id>",
	Short: "Show unread count, focus and whether a reply is pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		var st engine.State
		raw, err := client.do(cmd.Context(), http.MethodGet, "/conversations/"+args[0]+"/state", nil, nil, &st)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unread: %d\nawaiting reply: %t\nfocused: %t\nblocked: %t\npresent: %s\n",
			st.UnreadCount, st.AwaitingReply, st.Focused, st.Blocked, strings.Join(st.Present, ", "))
		return nil
	},
}

func printMessage(w io.Writer, m models.Message) {
	line := fmt.Sprintf("#%d %s [%s] %s: %s", m.Seq, m.CreatedAt.Format("15:04:05"), m.Status, m.SenderName, m.Content)
	if m.Type != models.MessageText && m.Type != "" {
		line += fmt.Sprintf(" <%s %s>", m.Type, m.MediaRef)
	}
	for _, emoji := range m.Emojis() {
		line += fmt.Sprintf(" %s%d", emoji, len(m.Reactions[emoji]))
	}
	fmt.Fprintln(w, line)
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"zenj-service/internal/models"
)

var (
	contactsAddPhone   string
	contactsAddPersona string
)

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.AddCommand(contactsListCmd, contactsAddCmd, contactsBlockCmd, contactsUnblockCmd, contactsSelectCmd)

	contactsAddCmd.Flags().StringVar(&contactsAddPhone, "phone", "", "contact phone number")
	contactsAddCmd.Flags().StringVar(&contactsAddPersona, "persona", "", "responder persona")
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts and groups, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		var resp struct {
			Contacts []models.Contact `json:"contacts"`
		}
		raw, err := client.do(cmd.Context(), http.MethodGet, "/contacts", nil, nil, &resp)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUNREAD\tLAST MESSAGE\tFLAGS")
		for _, c := range resp.Contacts {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.Name, c.UnreadCount, c.LastMessage, contactFlags(c))
		}
		return w.Flush()
	},
}

func contactFlags(c models.Contact) string {
	var flags []string
	if c.IsGroup {
		flags = append(flags, "group")
	}
	if c.Blocked {
		flags = append(flags, "blocked")
	}
	if c.Muted {
		flags = append(flags, "muted")
	}
	return strings.Join(flags, ",")
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		spec := models.ContactSpec{Name: args[0], Phone: contactsAddPhone, Persona: contactsAddPersona}
		var c models.Contact
		if _, err := client.do(cmd.Context(), http.MethodPost, "/contacts", nil, spec, &c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", c.Name, c.ID)
		return nil
	},
}

func contactAction(use, short, method, suffix, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <contact-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}
			return runContactAction(cmd.Context(), client, cmd, method, "/contacts/"+args[0]+suffix, done)
		},
	}
}

func runContactAction(ctx context.Context, client *apiClient, cmd *cobra.Command, method, path, done string) error {
	var c models.Contact
	if _, err := client.do(ctx, method, path, nil, nil, &c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, c.Name)
	return nil
}

var (
	contactsBlockCmd   = contactAction("block", "Block a contact", http.MethodPost, "/block", "Blocked")
	contactsUnblockCmd = contactAction("unblock", "Unblock a contact", http.MethodDelete, "/block", "Unblocked")
	contactsSelectCmd  = contactAction("select", "Focus a conversation and clear its unread count", http.MethodPost, "/select", "Selected")
)

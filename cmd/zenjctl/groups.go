package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"zenj-service/internal/models"
)

var groupsCreateMembers string

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsCreateCmd, groupsAddCmd, groupsRemoveCmd, groupsOwnerCmd, groupsAdminCmd, groupsUnadminCmd, groupsDeleteCmd)

	groupsCreateCmd.Flags().StringVarP(&groupsCreateMembers, "members", "m", "", "comma-separated member ids")
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage groups",
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		body := map[string]any{"name": args[0], "members": splitIDs(groupsCreateMembers)}
		var g models.Contact
		if _, err := client.do(cmd.Context(), http.MethodPost, "/groups", nil, body, &g); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created group %s (%s) with %d members\n", g.Name, g.ID, len(g.Members))
		return nil
	},
}

func splitIDs(s string) []string {
	ids := []string{}
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// groupMutation builds a command that changes a group's roles and prints
// the resulting member list.
func groupMutation(use, short, method string, path func(groupID, memberID string) string, body func(memberID string) any) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <group-id> <member-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}
			var payload any
			if body != nil {
				payload = body(args[1])
			}
			var g models.Contact
			if _, err := client.do(cmd.Context(), method, path(args[0], args[1]), nil, payload, &g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "owner: %s\nadmins: %s\nmembers: %s\n",
				g.OwnerID, strings.Join(g.Admins, ", "), strings.Join(g.Members, ", "))
			return nil
		},
	}
}

var (
	groupsAddCmd = groupMutation("add", "Add a member", http.MethodPost,
		func(g, _ string) string { return "/groups/" + g + "/members" },
		func(m string) any { return map[string]string{"member_id": m} })
	groupsRemoveCmd = groupMutation("remove", "Remove a member", http.MethodDelete,
		func(g, m string) string { return "/groups/" + g + "/members/" + m }, nil)
	groupsOwnerCmd = groupMutation("transfer", "Transfer ownership to a member", http.MethodPut,
		func(g, _ string) string { return "/groups/" + g + "/owner" },
		func(m string) any { return map[string]string{"owner_id": m} })
	groupsAdminCmd = groupMutation("admin", "Grant admin rights", http.MethodPost,
		func(g, _ string) string { return "/groups/" + g + "/admins" },
		func(m string) any { return map[string]string{"member_id": m} })
	groupsUnadminCmd = groupMutation("unadmin", "Revoke admin rights", http.MethodDelete,
		func(g, m string) string { return "/groups/" + g + "/admins/" + m }, nil)
)

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a group and its history (owner only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		if _, err := client.do(cmd.Context(), http.MethodDelete, "/groups/"+args[0], nil, nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted group %s\n", args[0])
		return nil
	},
}

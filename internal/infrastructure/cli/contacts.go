package cli

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/spf13/cobra"
)

var contactsJSON bool
var contactEmail string

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List the contacts tasks can be assigned to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(cmd, wiring.Options{Local: true})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		list := ws.Contacts.Contacts()
		if contactsJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(list)
		}
		if len(list) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No contacts. Add one with 'plangrid contacts add <id> <name>'.")
			return nil
		}
		rows := make([][]string, len(list))
		for i, c := range list {
			rows[i] = []string{c.ID, c.Name, c.Email}
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(mutedStyle).
			Headers("ID", "Name", "Email").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Add or replace a contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(cmd, wiring.Options{Local: true})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		c := domain.Contact{ID: args[0], Name: args[1], Email: contactEmail}
		if err := ws.Contacts.Save(c); err != nil {
			return NewCLIError("failed to save contact", "Contact ids start with a letter and use letters, digits, '-' and '_'", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved contact %s\n", c.ID)
		return nil
	},
}

func init() {
	contactsCmd.Flags().BoolVar(&contactsJSON, "json", false, "Print contacts as JSON")
	contactsAddCmd.Flags().StringVar(&contactEmail, "email", "", "Contact email")
	contactsCmd.AddCommand(contactsAddCmd)
	RootCmd.AddCommand(contactsCmd)
}

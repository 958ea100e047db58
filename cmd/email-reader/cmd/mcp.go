package cmd

import (
	"github.com/spf13/cobra"

	"github.com/martindkaz/email-reader/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the email tools over MCP stdio",
	Long: `Start an MCP (Model Context Protocol) server exposing the mailbox
tools — search_emails, get_email_details, list_email_attachments — over
stdio, for use by MCP-capable clients.

Authentication happens lazily on the first tool call; the device-code
prompt goes to stderr so it does not corrupt the protocol stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newSession()
		if err != nil {
			return err
		}
		bridge := tools.NewBridge(session, tools.WithLogger(logger))
		defer bridge.Close()

		return tools.Serve(cmd.Context(), bridge)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// Package commands implements the lockbook-admin CLI: a thin operator tool
// over the admin-only corner of the wire protocol, built directly on
// pkg/wireclient since that already gives a non-core caller access to the
// wire methods an admin needs.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockbook/lockbook/pkg/keychain"
	"github.com/lockbook/lockbook/pkg/wireclient"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var accountString string

var rootCmd = &cobra.Command{
	Use:   "lockbook-admin",
	Short: "Lockbook server administration CLI",
	Long: `lockbook-admin runs the admin-only corner of the Lockbook wire
protocol (currently: admin_purge) against a Lockbook server, authenticating
as one of the server's configured LB_ADMIN_USERS.

The calling account is read from --account, or the LOCKBOOK_ADMIN_ACCOUNT
environment variable: an exported account string from
pkg/keychain.Account.Export, the same format Lockbook clients use.

Use "lockbook-admin [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&accountString, "account", os.Getenv("LOCKBOOK_ADMIN_ACCOUNT"), "exported admin account string")
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadClient decodes the configured account string and builds a
// wireclient.Client that signs as it, matching every purge subcommand's
// need for an authenticated caller.
func loadClient() (*wireclient.Client, string, error) {
	if accountString == "" {
		return nil, "", fmt.Errorf("no account configured: pass --account or set LOCKBOOK_ADMIN_ACCOUNT")
	}
	acct, err := keychain.Import(accountString)
	if err != nil {
		return nil, "", fmt.Errorf("failed to import account: %w", err)
	}
	return wireclient.New(acct.ApiUrl(), acct.Private()), acct.Username(), nil
}

package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lockbook/lockbook/internal/cli/prompt"
)

var purgeForce bool

// purgeCmd permanently removes an already-deleted file's server-side
// record. The confirmation requires the file id typed back rather than a
// bare y/n, since purge is unrecoverable.
var purgeCmd = &cobra.Command{
	Use:   "purge <file-id>",
	Short: "Permanently remove an already-deleted file's server-side record",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeForce, "force", false, "skip the confirmation prompt")
}

func runPurge(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file id: %w", err)
	}

	if !purgeForce {
		ok, err := prompt.Confirm(fmt.Sprintf("Permanently purge file %s", id), id.String())
		if err != nil {
			if err == prompt.ErrAborted {
				return nil
			}
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}

	client, username, err := loadClient()
	if err != nil {
		return err
	}

	if err := client.AdminPurge(context.Background(), username, id); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	fmt.Printf("file %s purged\n", id)
	return nil
}

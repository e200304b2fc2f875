// Package prompt provides interactive terminal confirmation prompts for
// lockbook-admin's destructive subcommands. Only Confirm lives here since
// admin_purge is the sole operation that needs one.
package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// Confirm prompts the user to type confirmWord exactly before proceeding,
// for operations (like admin_purge) that destroy data permanently and
// shouldn't trigger on a stray "y" keypress.
func Confirm(label, confirmWord string) (bool, error) {
	p := promptui.Prompt{
		Label: label + " (type '" + confirmWord + "' to confirm)",
		Validate: func(input string) error {
			if input != confirmWord {
				return errors.New("input does not match")
			}
			return nil
		},
	}

	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}

	return result == confirmWord, nil
}

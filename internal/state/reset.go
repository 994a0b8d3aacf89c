package state

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ResetTarget is one file removed by Reset.
type ResetTarget struct {
	Label string
	Path  string
}

// ResetOptions controls the reset prompt.
type ResetOptions struct {
	// Yes skips the confirmation prompt.
	Yes bool
	In  io.Reader
	Out io.Writer
}

// ErrResetCancelled is returned when the operator declines the reset.
var ErrResetCancelled = errors.New("reset cancelled")

// Reset deletes the given state and log files after confirmation.
// Missing files are reported and skipped.
func Reset(targets []ResetTarget, opts ResetOptions) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	if !opts.Yes {
		fmt.Fprintln(out, "This will delete the following files:")
		for _, t := range targets {
			fmt.Fprintf(out, " - %s: %s\n", t.Label, t.Path)
		}
		fmt.Fprint(out, "Are you sure you want to continue? (y/N): ")

		answer := ""
		if opts.In != nil {
			line, err := bufio.NewReader(opts.In).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading confirmation: %w", err)
			}
			answer = strings.ToLower(strings.TrimSpace(line))
		}
		if answer != "y" {
			fmt.Fprintln(out, "[CANCELLED] No changes made.")
			return ErrResetCancelled
		}
	}

	var errs []error
	for _, t := range targets {
		err := os.Remove(t.Path)
		switch {
		case err == nil:
			fmt.Fprintf(out, "[OK] Removed %s (%s)\n", t.Label, t.Path)
		case errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(out, "[INFO] %s not found. Skipped.\n", t.Label)
		default:
			fmt.Fprintf(out, "[ERROR] Could not remove %s (%s): %v\n", t.Label, t.Path, err)
			errs = append(errs, fmt.Errorf("removing %s: %w", t.Path, err))
		}
	}

	return errors.Join(errs...)
}

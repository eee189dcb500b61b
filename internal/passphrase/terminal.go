package passphrase

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"
)

// Terminal returns a Source that prompts on the controlling terminal with
// echo disabled. It reads from /dev/tty when available so prompting still
// works while stdin carries piped data; the prompt itself goes to stderr.
//
// The read is not interruptible; ctx is checked before prompting.
func Terminal(prompt string) Source {
	return func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tty, cleanup, err := openTTY()
		if err != nil {
			return nil, err
		}
		defer cleanup()

		fmt.Fprintf(os.Stderr, "%s: ", prompt)
		pass, err := term.ReadPassword(int(tty.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("passphrase: read: %w", err)
		}
		return pass, nil
	}
}

func openTTY() (*os.File, func(), error) {
	if tty, err := os.Open("/dev/tty"); err == nil {
		return tty, func() { tty.Close() }, nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return os.Stdin, func() {}, nil
	}
	return nil, nil, ErrNoTerminal
}

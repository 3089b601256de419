package authgate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// PromptGate presents an interactive yes/no confirmation on a terminal. The
// read is user-paced and blocks the calling goroutine until the user answers,
// which is why the store runs gated operations on a worker.
type PromptGate struct {
	in  io.Reader
	out io.Writer
}

// NewPromptGate returns a gate prompting on the given streams. Passing nil
// uses stdin/stderr.
func NewPromptGate(in io.Reader, out io.Writer) *PromptGate {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	return &PromptGate{in: in, out: out}
}

func (g *PromptGate) Authorize(ctx context.Context, reason string) error {
	// Cancellation is honored up to the moment the challenge is presented;
	// once the user is being asked, the answer decides the outcome.
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(g.out, "%s\nConfirm [y/N]: ", reason); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	line, err := bufio.NewReader(g.in).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return ErrDeclined
	}
}

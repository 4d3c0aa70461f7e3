package console

import (
	"context"
	"errors"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"fleetops/internal/broadcast"
	"fleetops/internal/logging"
)

// Options configure Watch.
type Options struct {
	URL string
	// Plain forces line output even on a terminal.
	Plain bool
	Out   io.Writer
}

// Watch streams the feed at opts.URL until ctx is done or the feed ends.
// It renders a full-screen table on a terminal and colored lines otherwise.
func Watch(ctx context.Context, opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	client, err := Dial(ctx, opts.URL)
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.Plain || !isTerminal(out) {
		p := NewPrinter(out)
		return client.Run(ctx, func(e broadcast.Event) {
			if err := p.Print(e); err != nil {
				logging.FromContext(ctx).Warn("print event failed", "error", err)
			}
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	prog := tea.NewProgram(newModel(opts.URL), tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(out))
	go forward(ctx, client, prog)
	_, err = prog.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// forward pumps client events into the program.
func forward(ctx context.Context, c *Client, p teaProgram) {
	err := c.Run(ctx, func(e broadcast.Event) { p.Send(eventMsg{e}) })
	p.Send(disconnectedMsg{err: err})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

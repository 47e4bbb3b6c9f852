package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// PortChooser picks the port to print to. Returning an error means the
// selection was declined.
type PortChooser interface {
	ChoosePort(ctx context.Context, ports []model.DetectedPrinter) (string, error)
}

// PortChooserFunc adapts a function to PortChooser
type PortChooserFunc func(ctx context.Context, ports []model.DetectedPrinter) (string, error)

// ChoosePort calls f
func (f PortChooserFunc) ChoosePort(ctx context.Context, ports []model.DetectedPrinter) (string, error) {
	return f(ctx, ports)
}

// FixedPort always selects name, even when enumeration did not report it
func FixedPort(name string) PortChooser {
	return PortChooserFunc(func(ctx context.Context, _ []model.DetectedPrinter) (string, error) {
		if name == "" {
			return "", ErrNoPortSelected
		}
		return name, ctx.Err()
	})
}

// FirstPort selects the first enumerated port
func FirstPort() PortChooser {
	return PortChooserFunc(func(ctx context.Context, ports []model.DetectedPrinter) (string, error) {
		if len(ports) == 0 {
			return "", ErrNoPortSelected
		}
		return ports[0].Path, ctx.Err()
	})
}

// PromptChooser lists the ports on Out and reads a number from In.
// An empty answer declines. One chooser reads In for its whole lifetime, so
// answers typed ahead are kept for later prompts.
type PromptChooser struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan promptAnswer
}

type promptAnswer struct {
	line string
	err  error
}

func (p *PromptChooser) readLines() {
	p.lines = make(chan promptAnswer)
	go func() {
		defer close(p.lines)
		r := bufio.NewReader(p.In)
		for {
			line, err := r.ReadString('\n')
			if err == io.EOF && line != "" {
				err = nil
			}
			p.lines <- promptAnswer{line, err}
			if err != nil {
				return
			}
		}
	}()
}

// ChoosePort prompts for a port. It returns when the answer arrives or ctx ends.
func (p *PromptChooser) ChoosePort(ctx context.Context, ports []model.DetectedPrinter) (string, error) {
	if len(ports) == 0 {
		return "", ErrNoPortSelected
	}

	fmt.Fprintln(p.Out, "Select a printer port:")
	for i, port := range ports {
		label := port.Path
		if port.Manufacturer != "" {
			label += " (" + port.Manufacturer + ")"
		}
		fmt.Fprintf(p.Out, "  %d) %s\n", i+1, label)
	}
	fmt.Fprint(p.Out, "Port number (empty to cancel): ")

	p.once.Do(p.readLines)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a, ok := <-p.lines:
		if !ok {
			a.err = io.EOF
		}
		if a.err != nil {
			return "", fmt.Errorf("failed to read selection: %w", a.err)
		}
		s := strings.TrimSpace(a.line)
		if s == "" {
			return "", ErrNoPortSelected
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > len(ports) {
			return "", fmt.Errorf("invalid selection %q", s)
		}
		return ports[n-1].Path, nil
	}
}

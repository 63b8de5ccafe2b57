package coach

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// Console renders commentary batches as markdown on the terminal.
type Console struct {
	mu      sync.Mutex // dispatch goroutines may overlap
	out     io.Writer
	persona *Persona
	noColor bool
}

// NewConsole creates a console dispatcher writing to stdout.
func NewConsole(persona *Persona, noColor bool) *Console {
	if persona == nil {
		persona = DefaultPersona()
	}
	return &Console{out: os.Stdout, persona: persona, noColor: noColor}
}

// Dispatch renders the batch and writes it to the console.
func (c *Console) Dispatch(_ context.Context, events []event.Event, snapshot event.Snapshot) error {
	var b strings.Builder
	for _, e := range events {
		if e.Category == event.CategorySessionStart && c.persona.Intro != "" {
			b.WriteString(c.persona.Intro + "\n\n")
		}
		line := c.persona.Line(e, snapshot)
		if line == "" {
			continue
		}
		b.WriteString(line + "\n")
	}
	if b.Len() == 0 {
		return nil
	}

	rendered, err := renderMarkdown(b.String(), c.noColor)
	if err != nil {
		// fall back to the raw markdown rather than drop commentary
		rendered = b.String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = fmt.Fprint(c.out, rendered)
	return err
}

// renderMarkdown renders markdown content for terminal display. If noColor
// is true, returns the content unchanged.
func renderMarkdown(content string, noColor bool) (string, error) {
	if noColor {
		return content, nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}

	result, err := renderer.Render(content)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return result, nil
}

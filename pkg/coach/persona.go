package coach

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// Persona controls the voice of the console commentary. Persona files are
// markdown with a YAML frontmatter header:
//
//	---
//	name: hype
//	tone: hype
//	---
//	Welcome to the stream!
//
// The body, if any, is printed once when a session starts.
type Persona struct {
	Name  string `yaml:"name"`
	Tone  string `yaml:"tone"` // hype, analytic or chill
	Intro string `yaml:"-"`    // frontmatter body
}

// DefaultPersona is the voice used when no persona file is configured.
func DefaultPersona() *Persona {
	return &Persona{Name: "default", Tone: "analytic"}
}

// LoadPersona reads a persona file. A file without frontmatter is treated
// as intro-only with the default tone.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user config
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	p := DefaultPersona()
	header, body := splitFrontmatter(string(data))
	if header != "" {
		if err := yaml.Unmarshal([]byte(header), p); err != nil {
			return nil, fmt.Errorf("parse persona frontmatter: %w", err)
		}
	}
	p.Intro = strings.TrimSpace(body)
	return p, nil
}

// splitFrontmatter separates a ---\n...\n--- header from the body.
// Returns an empty header if the content has no frontmatter.
func splitFrontmatter(content string) (header, body string) {
	if !strings.HasPrefix(content, "---\n") {
		return "", content
	}
	end := strings.Index(content[4:], "\n---")
	if end == -1 {
		return "", content
	}
	return content[4 : 4+end], content[4+end+4:]
}

// Line renders one event as a markdown commentary line in this persona's
// voice.
func (p *Persona) Line(e event.Event, snapshot event.Snapshot) string {
	who := playerLabel(e.PlayerIndex, snapshot)

	switch e.Category {
	case event.CategorySessionStart:
		return fmt.Sprintf("**Game on!** %s at %s", e.Matchup, e.Stage)
	case event.CategorySessionEnd:
		return p.endLine(e)
	case event.CategoryStockLost:
		if p.Tone == "hype" {
			return fmt.Sprintf("**%s goes down!** %d stock%s left", who, e.StocksRemaining, plural(e.StocksRemaining))
		}
		return fmt.Sprintf("%s lost a stock, %d remaining", who, e.StocksRemaining)
	case event.CategoryCombo:
		kill := ""
		if e.DidKill {
			kill = " and takes the stock"
		}
		if p.Tone == "hype" {
			return fmt.Sprintf("**%s with a %d-hit combo for %.0f%%%s!**", who, e.Moves, e.Damage, kill)
		}
		return fmt.Sprintf("%s lands a %d-hit combo, %.0f%% damage%s", who, e.Moves, e.Damage, kill)
	case event.CategoryTechnique:
		return fmt.Sprintf("%s: %s", who, e.SubType)
	case event.CategoryFrameUpdate:
		return stateLine(e)
	}
	return ""
}

// endLine renders the end-of-session aggregate.
func (p *Persona) endLine(e event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Game over.** %s\n", e.Matchup)
	for _, t := range e.Totals {
		fmt.Fprintf(&b, "- %s: %d stocks lost, %.0f%% dealt, %d combos\n",
			t.Character, t.StocksLost, t.DamageDealt, t.Combos)
	}
	return strings.TrimRight(b.String(), "\n")
}

// stateLine renders a heartbeat as a compact scoreboard.
func stateLine(e event.Event) string {
	parts := make([]string, 0, len(e.Players))
	for _, p := range e.Players {
		parts = append(parts, fmt.Sprintf("%s %d stocks at %.0f%%", p.Character, p.Stocks, p.Percent))
	}
	return "current state: " + strings.Join(parts, ", ")
}

// playerLabel resolves a player index to a character name via the batch
// snapshot, falling back to the port number.
func playerLabel(index int, snapshot event.Snapshot) string {
	for _, p := range snapshot.Players {
		if p.Index == index {
			return p.Character
		}
	}
	return fmt.Sprintf("player %d", index+1)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// Package format renders cluster resources and metric samples as chat-ready
// markdown. Every function is pure: callers pass in the records and the
// reference time used for ages.
package format

import (
	"fmt"
	"strings"
	"time"
)

// Output selects the rendering of a report.
type Output string

const (
	OutputTable Output = "table"
	OutputYAML  Output = "yaml"
	OutputText  Output = "text"
	OutputJSON  Output = "json"
)

// ParseOutput maps user input onto an Output, falling back to def.
func ParseOutput(s string, def Output) Output {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "wide":
		return OutputTable
	case "yaml", "yml":
		return OutputYAML
	case "text", "default":
		return OutputText
	case "json":
		return OutputJSON
	default:
		return def
	}
}

// Age renders the single largest nonzero unit elapsed between created and now.
func Age(created, now time.Time) string {
	if created.IsZero() {
		return "<unknown>"
	}
	d := now.Sub(created)
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	default:
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
}

// NoneFound is the sentence used instead of an empty table or document stream.
func NoneFound(kind string) string {
	return fmt.Sprintf("No %s found.", kind)
}

type table struct {
	title   string
	headers []string
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) String() string {
	var b strings.Builder
	if t.title != "" {
		fmt.Fprintf(&b, "### %s\n\n", t.title)
	}
	b.WriteString("| " + strings.Join(t.headers, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(t.headers)) + "\n")
	for _, row := range t.rows {
		escaped := make([]string, len(row))
		for i, c := range row {
			escaped[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		b.WriteString("| " + strings.Join(escaped, " | ") + " |\n")
	}
	return b.String()
}

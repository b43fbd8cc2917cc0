package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/sessionstate/pkg/domain"
)

// SessionSummary is what `session inspect` shows about one session.
type SessionSummary struct {
	ID        string         `json:"id"`
	Version   string         `json:"version,omitempty"`
	Timeout   string         `json:"timeout,omitempty"`
	Remaining string         `json:"remaining"`
	Locked    bool           `json:"locked"`
	LockAge   string         `json:"lock_age,omitempty"`
	Keys      []string       `json:"keys"`
	Items     map[string]any `json:"items"`
}

// Summarize builds a SessionSummary from a store read and the remaining TTL.
// A locked result carries no record; only the lock details are filled in.
func Summarize(id string, res *domain.GetItemResult, remaining time.Duration) SessionSummary {
	s := SessionSummary{
		ID:        id,
		Remaining: FormatTTL(remaining),
		Keys:      []string{},
		Items:     map[string]any{},
	}
	if res == nil {
		return s
	}
	if res.Locked {
		s.Locked = true
		s.LockAge = res.LockAge.Round(time.Millisecond).String()
	}
	if res.Record != nil {
		s.Timeout = res.Record.Timeout.String()
		s.Version, _ = res.Record.Items.Version()
		if keys := res.Record.Items.Keys(); keys != nil {
			s.Keys = keys
		}
		s.Items = res.Record.Items.All()
	}
	return s
}

// FormatTTL renders a remaining lifetime, including the no-expiry sentinel.
func FormatTTL(d time.Duration) string {
	if d == domain.NoExpiration {
		return "never"
	}
	return d.Round(time.Millisecond).String()
}

// SessionMarkdown renders s as a markdown document with one table row per item.
func SessionMarkdown(s SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session `%s`\n\n", s.ID)

	version := s.Version
	if version == "" {
		version = "untagged"
	}
	fmt.Fprintf(&b, "- **Version**: %s\n", version)
	if s.Timeout != "" {
		fmt.Fprintf(&b, "- **Timeout**: %s\n", s.Timeout)
	}
	fmt.Fprintf(&b, "- **Remaining**: %s\n", s.Remaining)
	if s.Locked {
		fmt.Fprintf(&b, "- **Locked**: for %s\n", s.LockAge)
	}
	b.WriteString("\n")

	if len(s.Keys) == 0 {
		b.WriteString("_No items._\n")
		return b.String()
	}

	b.WriteString("| Key | Value |\n|---|---|\n")
	for _, k := range s.Keys {
		fmt.Fprintf(&b, "| %s | %s |\n", cell(k), cell(formatValue(s.Items[k])))
	}
	return b.String()
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

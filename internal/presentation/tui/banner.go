package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the sessionstate banner followed by the CLI version.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"  ___ ___ ___ ___(_) ___  _ __  ", "#818cf8"},
		{" / __/ _ / __/ __| |/ _ \\| '_ \\ ", "#a78bfa"},
		{" \\__ \\  _\\__ \\__ \\ | (_) | | | |", "#c084fc"},
		{" |___/___|___/___/_|\\___/|_| |_| state", "#e879f9"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	if v := strings.TrimSpace(version); v != "" {
		fmt.Fprintln(w, termenv.String("  v"+v).Faint())
	}
	fmt.Fprintln(w)
}

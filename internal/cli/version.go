package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/sessionstate"
	"github.com/aretw0/sessionstate/pkg/versioning"
)

// PrintVersion prints the CLI version and the session version this configuration resolves to.
func PrintVersion(opts Options, w io.Writer) error {
	fmt.Fprintf(w, "sessionstate version %s\n", strings.TrimSpace(sessionstate.Version))

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	tagger := versioning.NewTagger(cfg.Versioning.Source())
	if !tagger.Enabled() {
		fmt.Fprintln(w, "session versioning disabled")
		return nil
	}

	line := fmt.Sprintf("session version %s (%s)", tagger.Version(), tagger.Kind())
	if tagger.FellBack() {
		line += " [fallback]"
	}
	fmt.Fprintln(w, line)
	return nil
}

package versioning

import (
	"runtime/debug"

	"github.com/aretw0/sessionstate/pkg/domain"
)

// AutoLiteral is the fallback version used when automatic resolution fails.
const AutoLiteral = "auto"

// Kind identifies a version source.
type Kind int

const (
	KindDisabled Kind = iota // No versioning, every payload is valid
	KindFixed                // Literal version
	KindAuto                 // Derived from build metadata
	KindCustom               // Caller-supplied resolver
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindAuto:
		return "auto"
	case KindCustom:
		return "custom"
	}
	return "none"
}

// Source describes how the current version is obtained.
type Source struct {
	kind     Kind
	fallback string
	resolve  func() (string, error)
}

// Kind returns the source kind.
func (s Source) Kind() Kind {
	return s.kind
}

// Disabled turns versioning off.
func Disabled() Source {
	return Source{kind: KindDisabled}
}

// Fixed uses version verbatim.
func Fixed(version string) Source {
	return Source{kind: KindFixed, fallback: version}
}

// Auto derives the version from the running binary's build metadata.
// fallback is used when nothing can be derived; empty means AutoLiteral.
func Auto(fallback string) Source {
	return AutoFrom(debug.ReadBuildInfo, fallback)
}

// AutoFrom is Auto with an explicit build metadata reader.
func AutoFrom(read func() (*debug.BuildInfo, bool), fallback string) Source {
	if fallback == "" {
		fallback = AutoLiteral
	}
	return Source{
		kind:     KindAuto,
		fallback: fallback,
		resolve: func() (string, error) {
			info, ok := read()
			if !ok || info == nil {
				return "", errNoBuildInfo
			}
			return versionFromBuildInfo(info), nil
		},
	}
}

// Custom resolves the version with fn. An error or empty result selects fallback.
func Custom(fn func() (string, error), fallback string) Source {
	if fallback == "" {
		fallback = AutoLiteral
	}
	return Source{kind: KindCustom, fallback: fallback, resolve: fn}
}

// versionFromBuildInfo prefers the stamped main module version,
// then the VCS revision recorded by the go tool.
func versionFromBuildInfo(info *debug.BuildInfo) string {
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision != "" && modified {
		revision += "+dirty"
	}
	return revision
}

// Tagger stamps and checks the version slot of session payloads.
// The version is resolved once in NewTagger and never changes afterwards.
type Tagger struct {
	kind     Kind
	version  string
	fellBack bool
}

// NewTagger resolves src. Resolution never fails: errors select the source fallback.
func NewTagger(src Source) *Tagger {
	t := &Tagger{kind: src.kind, version: src.fallback}
	if src.resolve == nil {
		return t
	}

	version, err := src.resolve()
	if err != nil || version == "" {
		t.fellBack = true
		return t
	}
	t.version = version
	return t
}

// Enabled reports whether payloads are version checked.
func (t *Tagger) Enabled() bool {
	return t != nil && t.kind != KindDisabled
}

// Kind returns the kind of source the tagger was built from.
func (t *Tagger) Kind() Kind {
	if t == nil {
		return KindDisabled
	}
	return t.kind
}

// Version returns the resolved current version.
func (t *Tagger) Version() string {
	if t == nil {
		return ""
	}
	return t.version
}

// FellBack reports whether resolution failed and the fallback literal is in use.
func (t *Tagger) FellBack() bool {
	return t != nil && t.fellBack
}

// Stamp writes the current version into items.
func (t *Tagger) Stamp(items *domain.Items) {
	if !t.Enabled() || items == nil {
		return
	}
	items.SetVersion(t.version)
}

// Matches reports whether items were written by the current version.
// A missing tag never matches. With versioning disabled everything matches.
func (t *Tagger) Matches(items *domain.Items) bool {
	if !t.Enabled() {
		return true
	}
	stored, ok := items.Version()
	return ok && stored == t.version
}

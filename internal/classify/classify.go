// Package classify defines the corporate clearance hierarchy shared by the
// document registry, section crypto, and authorization layers.
//
// Levels are strictly ordered:
//
//	INTERNAL < CONFIDENTIAL < RESTRICTED < TOP-SECRET
//
// A clearance at level N covers every document and section at level N or
// below. The zero Level is invalid; parse failures never return a usable
// level.
package classify

import (
	"fmt"
	"strings"
)

// Level is a rung of the clearance hierarchy. Higher values dominate lower
// ones.
type Level int

const (
	Internal     Level = 1
	Confidential Level = 2
	Restricted   Level = 3
	TopSecret    Level = 4
)

// labels holds the canonical wire form of each level. TOP-SECRET keeps its
// hyphen everywhere: documents, credentials, and DOCX content-control tags
// all use the same spelling.
var labels = map[Level]string{
	Internal:     "INTERNAL",
	Confidential: "CONFIDENTIAL",
	Restricted:   "RESTRICTED",
	TopSecret:    "TOP-SECRET",
}

var byLabel = map[string]Level{
	"INTERNAL":     Internal,
	"CONFIDENTIAL": Confidential,
	"RESTRICTED":   Restricted,
	"TOP-SECRET":   TopSecret,
}

// Parse converts a clearance label to its Level. Matching is
// case-insensitive; surrounding whitespace is ignored.
func Parse(label string) (Level, error) {
	l, ok := byLabel[strings.ToUpper(strings.TrimSpace(label))]
	if !ok {
		return 0, fmt.Errorf("unknown clearance level %q", label)
	}
	return l, nil
}

// MustParse parses a label and panics on error. Useful in tests and init
// blocks.
func MustParse(label string) Level {
	l, err := Parse(label)
	if err != nil {
		panic(err)
	}
	return l
}

// String returns the canonical label, e.g. "TOP-SECRET".
func (l Level) String() string {
	if s, ok := labels[l]; ok {
		return s
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	_, ok := labels[l]
	return ok
}

// MarshalText emits the canonical label so JSON payloads carry "RESTRICTED"
// rather than an opaque integer.
func (l Level) MarshalText() ([]byte, error) {
	s, ok := labels[l]
	if !ok {
		return nil, fmt.Errorf("cannot marshal invalid clearance level %d", int(l))
	}
	return []byte(s), nil
}

// UnmarshalText parses a label in any case.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Covers reports whether a holder of clearance l may read material at level
// other.
func (l Level) Covers(other Level) bool {
	return l >= other
}

// Levels returns all levels in ascending order.
func Levels() []Level {
	return []Level{Internal, Confidential, Restricted, TopSecret}
}

// UpTo returns every level from INTERNAL through max inclusive, ascending.
// The registry uses this to expand a clearance tier into the set of
// classifications it may see.
func UpTo(max Level) []Level {
	var out []Level
	for _, l := range Levels() {
		if l <= max {
			out = append(out, l)
		}
	}
	return out
}

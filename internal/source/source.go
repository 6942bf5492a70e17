// Package source defines the fixed set of monitored university pages and
// the per-kind extraction profile. All kinds share one extraction routine;
// the profile carries the few knobs that differ (row exclusions, date
// requirement, display strings) instead of duplicating scan logic per kind.
package source

import (
	"fmt"
	"regexp"
)

// Kind identifies one monitored page category.
type Kind string

const (
	KindResult    Kind = "result"
	KindDatesheet Kind = "datesheet"
	KindCircular  Kind = "circular"
)

// Kinds returns all monitored kinds in their canonical check order.
func Kinds() []Kind {
	return []Kind{KindResult, KindDatesheet, KindCircular}
}

// ParseKind validates a kind string from config or an HTTP request.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindResult, KindDatesheet, KindCircular:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// Profile is the per-kind extraction and presentation configuration.
type Profile struct {
	Kind Kind
	URL  string

	// Title and Icon are used in rendered notifications.
	Title string
	Icon  string

	// ExcludeSubstrings drops listing rows whose title contains any of
	// these (case-insensitive). Header and site-navigation rows on the
	// university pages match these reliably.
	ExcludeSubstrings []string

	// RequireDate, when non-nil, drops rows whose trailing cell does not
	// match the pattern. The circulars page interleaves navigation links
	// with dated notices; a date cell is what tells them apart.
	RequireDate *regexp.Regexp
}

// ddmmyyyy matches the DD-MM-YYYY dates used across the IPU notice tables.
var ddmmyyyy = regexp.MustCompile(`\d{2}-\d{2}-\d{4}`)

// commonExcludes filters header rows present on every monitored page.
var commonExcludes = []string{"title", "s.no"}

var profiles = map[Kind]Profile{
	KindResult: {
		Kind:              KindResult,
		URL:               "http://ggsipu.ac.in/ExamResults/ExamResultsmain.htm",
		Title:             "Exam Results Update",
		Icon:              "\U0001F393", // graduation cap
		ExcludeSubstrings: commonExcludes,
	},
	KindDatesheet: {
		Kind:              KindDatesheet,
		URL:               "http://ipu.ac.in/exam_datesheet.php",
		Title:             "Datesheet Update",
		Icon:              "\U0001F4C5", // calendar
		ExcludeSubstrings: commonExcludes,
	},
	KindCircular: {
		Kind:  KindCircular,
		URL:   "http://ipu.ac.in/notices.php",
		Title: "Circular/Notice Update",
		Icon:  "\U0001F4E2", // loudspeaker
		ExcludeSubstrings: append([]string{
			"notices", "about university", "acts, statute", "university...",
		}, commonExcludes...),
		RequireDate: ddmmyyyy,
	},
}

// ProfileFor returns the profile for kind. URL overrides come from config
// via Registry; this returns the built-in defaults.
func ProfileFor(kind Kind) (Profile, bool) {
	p, ok := profiles[kind]
	return p, ok
}

// Registry is the resolved set of monitored sources for one process run.
type Registry struct {
	byKind map[Kind]Profile
}

// NewRegistry builds the registry, applying optional URL overrides keyed by
// kind string (from config). Unknown kinds are rejected.
func NewRegistry(urlOverrides map[string]string) (*Registry, error) {
	r := &Registry{byKind: make(map[Kind]Profile, len(profiles))}
	for k, p := range profiles {
		r.byKind[k] = p
	}
	for ks, u := range urlOverrides {
		k, err := ParseKind(ks)
		if err != nil {
			return nil, err
		}
		if u == "" {
			return nil, fmt.Errorf("sources.%s: empty url", ks)
		}
		p := r.byKind[k]
		p.URL = u
		r.byKind[k] = p
	}
	return r, nil
}

func (r *Registry) Get(kind Kind) (Profile, bool) {
	p, ok := r.byKind[kind]
	return p, ok
}

// All returns profiles in canonical check order.
func (r *Registry) All() []Profile {
	out := make([]Profile, 0, len(r.byKind))
	for _, k := range Kinds() {
		if p, ok := r.byKind[k]; ok {
			out = append(out, p)
		}
	}
	return out
}

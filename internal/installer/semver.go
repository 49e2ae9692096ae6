package installer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coreos/go-semver/semver"
)

type rangeKind int

const (
	rangeAny rangeKind = iota
	rangeExact
	rangeCaret
	rangeTilde
)

// Range is a declared dependency constraint: exact, caret, tilde, or any.
type Range struct {
	kind rangeKind
	base *semver.Version
	raw  string
}

// ParseRange parses an npm-style version range. Supported forms: "", "*",
// "latest", "1.2.3", "^1.2.3", "~1.2.3", with missing minor/patch segments
// padded with zeroes.
func ParseRange(raw string) (*Range, error) {
	s := strings.TrimSpace(raw)
	switch s {
	case "", "*", "latest", "x":
		return &Range{kind: rangeAny, raw: raw}, nil
	}

	kind := rangeExact
	switch s[0] {
	case '^':
		kind = rangeCaret
		s = s[1:]
	case '~':
		kind = rangeTilde
		s = s[1:]
	case '=', 'v':
		s = s[1:]
	}

	base, err := parseLenient(s)
	if err != nil {
		return nil, fmt.Errorf("version range %q: %w", raw, err)
	}
	return &Range{kind: kind, base: base, raw: raw}, nil
}

// parseLenient accepts partial versions ("1", "1.2") by padding with zeroes.
func parseLenient(s string) (*semver.Version, error) {
	core := s
	var suffix string
	if idx := strings.IndexAny(s, "-+"); idx >= 0 {
		core, suffix = s[:idx], s[idx:]
	}
	for strings.Count(core, ".") < 2 {
		core += ".0"
	}
	return semver.NewVersion(core + suffix)
}

// Satisfies reports whether a concrete version matches the range. Caret
// ranges keep the leftmost nonzero segment fixed; tilde ranges keep
// major.minor fixed.
func (r *Range) Satisfies(v *semver.Version) bool {
	switch r.kind {
	case rangeAny:
		return true
	case rangeExact:
		return v.Equal(*r.base)
	}

	if v.LessThan(*r.base) {
		return false
	}

	switch r.kind {
	case rangeTilde:
		return v.Major == r.base.Major && v.Minor == r.base.Minor
	case rangeCaret:
		if r.base.Major != 0 {
			return v.Major == r.base.Major
		}
		if r.base.Minor != 0 {
			return v.Major == 0 && v.Minor == r.base.Minor
		}
		return v.Major == 0 && v.Minor == 0 && v.Patch == r.base.Patch
	}
	return false
}

func (r *Range) String() string { return r.raw }

// highestSatisfying picks the greatest version string in the set satisfying
// the range. Unparseable version strings are skipped.
func highestSatisfying(versions []string, r *Range) (string, error) {
	parsed := make([]*semver.Version, 0, len(versions))
	byString := make(map[*semver.Version]string, len(versions))
	for _, raw := range versions {
		v, err := parseLenient(raw)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
		byString[v] = raw
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[j].LessThan(*parsed[i]) })

	for _, v := range parsed {
		if r.Satisfies(v) {
			return byString[v], nil
		}
	}
	return "", fmt.Errorf("no version satisfies %q (available: %s)", r.raw, strings.Join(versions, ", "))
}

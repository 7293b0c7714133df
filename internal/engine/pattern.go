// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"strings"

	"grimm.is/nsight/internal/errors"
)

// Validation codes surfaced to API callers. These are stable identifiers;
// dashboards key on them, so they must not change.
const (
	CodeEmptyPattern         = "EMPTY_PATTERN"
	CodePatternTooBroad      = "PATTERN_TOO_BROAD"
	CodeInvalidCharacters    = "INVALID_CHARACTERS"
	CodeConsecutiveWildcards = "CONSECUTIVE_WILDCARDS"
	CodeInvalidRange         = "INVALID_RANGE"
	CodeInvalidLimit         = "INVALID_LIMIT"
)

// PatternKind classifies a compiled exclusion pattern. The set is closed:
// matching code switches exhaustively over it instead of re-inspecting the
// raw string.
type PatternKind uint8

const (
	// PatternExact matches the domain verbatim.
	PatternExact PatternKind = iota
	// PatternSuffix ("*.example.com") matches the domain and all subdomains.
	PatternSuffix
	// PatternPrefix ("tracking.*") matches the name under any top-level label.
	PatternPrefix
	// PatternSubstring ("*ads*") matches the text anywhere in the domain.
	PatternSubstring
)

func (k PatternKind) String() string {
	switch k {
	case PatternExact:
		return "exact"
	case PatternSuffix:
		return "suffix_wildcard"
	case PatternPrefix:
		return "prefix_wildcard"
	case PatternSubstring:
		return "substring_wildcard"
	default:
		return "unknown"
	}
}

// Pattern is an immutable compiled exclusion pattern. Value holds the
// lowercased core text with the wildcard markers stripped.
type Pattern struct {
	Raw   string
	Kind  PatternKind
	Value string
}

const patternAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789*.-_"

// CompilePattern parses, validates and classifies a raw exclusion string.
// It is a pure function: identical input always yields identical output, and
// compiling a pattern's own normalized form yields the same classification.
func CompilePattern(raw string) (Pattern, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return Pattern{}, errors.Coded(errors.KindValidation, CodeEmptyPattern, "exclusion pattern is empty")
	}

	for _, r := range trimmed {
		if !strings.ContainsRune(patternAlphabet, r) {
			return Pattern{}, errors.Codedf(errors.KindValidation, CodeInvalidCharacters,
				"exclusion pattern %q contains invalid character %q", trimmed, r)
		}
	}

	// Patterns that reduce to nothing but wildcard markers and dots would
	// match every record; refusing them keeps a single bad filter from
	// turning into a full-collection scan.
	core := strings.ReplaceAll(trimmed, "*", "")
	if core == "" || core == "." {
		return Pattern{}, errors.Codedf(errors.KindValidation, CodePatternTooBroad,
			"exclusion pattern %q is too broad", trimmed)
	}

	if strings.Contains(trimmed, "**") {
		return Pattern{}, errors.Codedf(errors.KindValidation, CodeConsecutiveWildcards,
			"exclusion pattern %q contains consecutive wildcards", trimmed)
	}

	// Interior wildcards are stripped from the suffix and prefix cores just
	// like the substring kind strips them; a literal '*' left in Value could
	// never match any domain.
	switch {
	case strings.HasPrefix(trimmed, "*."):
		return Pattern{Raw: raw, Kind: PatternSuffix, Value: strings.ReplaceAll(trimmed[2:], "*", "")}, nil
	case strings.HasSuffix(trimmed, ".*"):
		return Pattern{Raw: raw, Kind: PatternPrefix, Value: strings.ReplaceAll(trimmed[:len(trimmed)-2], "*", "")}, nil
	case strings.Contains(trimmed, "*"):
		return Pattern{Raw: raw, Kind: PatternSubstring, Value: core}, nil
	default:
		return Pattern{Raw: raw, Kind: PatternExact, Value: trimmed}, nil
	}
}

// CompilePatterns compiles a list of raw patterns, failing on the first
// invalid entry.
func CompilePatterns(raws []string) ([]Pattern, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	patterns := make([]Pattern, 0, len(raws))
	for _, raw := range raws {
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Matches reports whether the pattern matches the given domain. The domain is
// expected to be lowercase-normalized; matching is therefore already
// case-insensitive.
func (p Pattern) Matches(domain string) bool {
	switch p.Kind {
	case PatternExact:
		return domain == p.Value
	case PatternSuffix:
		return domain == p.Value || strings.HasSuffix(domain, "."+p.Value)
	case PatternPrefix:
		return domain == p.Value || strings.HasPrefix(domain, p.Value+".")
	case PatternSubstring:
		return strings.Contains(domain, p.Value)
	default:
		return false
	}
}

// likeEscaper neutralizes the SQL LIKE metacharacters in user-supplied text.
// Only the engine's own '*' markers may carry wildcard meaning; everything
// the user typed has to be matched literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SQL renders the pattern as a positive match condition against column,
// using placeholders. Callers negate it to express exclusion. Every rendered
// LIKE uses ESCAPE '\' with the literal text escaped by likeEscaper.
func (p Pattern) SQL(column string) (string, []any) {
	escaped := likeEscaper.Replace(p.Value)
	switch p.Kind {
	case PatternExact:
		return column + " = ?", []any{p.Value}
	case PatternSuffix:
		return "(" + column + " = ? OR " + column + ` LIKE ? ESCAPE '\')`, []any{p.Value, `%.` + escaped}
	case PatternPrefix:
		return "(" + column + " = ? OR " + column + ` LIKE ? ESCAPE '\')`, []any{p.Value, escaped + `.%`}
	case PatternSubstring:
		return column + ` LIKE ? ESCAPE '\'`, []any{`%` + escaped + `%`}
	default:
		// Unreachable for compiled patterns; match nothing.
		return "1 = 0", nil
	}
}

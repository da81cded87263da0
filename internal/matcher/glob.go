package matcher

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
)

// Pattern is a compiled path pattern.
type Pattern interface {
	Match(path string) bool
	String() string
}

// Compiler turns pattern text into a Pattern.
type Compiler interface {
	Compile(pattern string) (Pattern, error)
}

var errEmptyPattern = errors.New("matcher: empty pattern")

// GlobCompiler compiles gitignore-style globs: `*` within a segment, `**`
// across segments, `?` for a single character.
type GlobCompiler struct{}

// Compile implements Compiler.
func (GlobCompiler) Compile(pattern string) (Pattern, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errEmptyPattern
	}
	if _, err := filepath.Match(pattern, "."); err != nil {
		return nil, err
	}
	pm, err := patternmatcher.New([]string{pattern})
	if err != nil {
		return nil, err
	}
	return globPattern{raw: pattern, pm: pm}, nil
}

type globPattern struct {
	raw string
	pm  *patternmatcher.PatternMatcher
}

func (g globPattern) Match(path string) bool {
	ok, err := g.pm.MatchesOrParentMatches(filepath.ToSlash(path))
	return err == nil && ok
}

func (g globPattern) String() string { return g.raw }

// substringPattern matches paths containing the pattern with wildcards
// removed. Used when a glob does not compile.
type substringPattern struct {
	raw    string
	needle string
}

func newSubstringPattern(pattern string) substringPattern {
	needle := strings.NewReplacer("*", "", "?", "").Replace(pattern)
	return substringPattern{raw: pattern, needle: filepath.ToSlash(needle)}
}

func (s substringPattern) Match(path string) bool {
	return s.needle != "" && strings.Contains(filepath.ToSlash(path), s.needle)
}

func (s substringPattern) String() string { return s.raw }

// CompileOrFallback compiles pattern with c and degrades to substring
// containment when compilation fails. It never returns nil.
func CompileOrFallback(c Compiler, pattern string) (Pattern, bool) {
	p, err := c.Compile(pattern)
	if err != nil {
		return newSubstringPattern(pattern), false
	}
	return p, true
}

// matchesDir reports whether dir, or a file directly inside it, matches p.
func matchesDir(p Pattern, dir string) bool {
	return p.Match(dir) || p.Match(filepath.Join(dir, "_"))
}

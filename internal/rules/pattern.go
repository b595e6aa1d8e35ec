package rules

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single match so a pathological pattern cannot stall a run.
const matchTimeout = 2 * time.Second

// Pattern is a compiled regular expression with search semantics: it matches
// when any substring of the input matches. Patterns follow the backtracking
// dialect (lookarounds and backreferences are allowed).
type Pattern struct {
	source string
	re     *regexp2.Regexp
}

// CompilePattern compiles expr.
func CompilePattern(expr string) (*Pattern, error) {
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	re.MatchTimeout = matchTimeout
	return &Pattern{source: expr, re: re}, nil
}

// MustCompilePattern is CompilePattern for patterns known to be valid.
func MustCompilePattern(expr string) *Pattern {
	p, err := CompilePattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// MatchString reports whether s contains a match.
func (p *Pattern) MatchString(s string) (bool, error) {
	ok, err := p.re.MatchString(s)
	if err != nil {
		return false, fmt.Errorf("match pattern %q: %w", p.source, err)
	}
	return ok, nil
}

// String returns the source expression.
func (p *Pattern) String() string {
	return p.source
}

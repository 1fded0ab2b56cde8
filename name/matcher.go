package name

import (
	"fmt"
	"strings"
)

// Matcher matches host names against a pattern with an optional wildcard at
// either end, such as "*.example.com", "www.example.*" or "*".
type Matcher struct {
	Pattern string

	wildPrefix bool
	wildSuffix bool
	fixedPart  string
}

// NewMatcher returns a matcher for pattern. The non-wildcard part of the
// pattern must be a valid domain name.
func NewMatcher(pattern string) (*Matcher, error) {
	switch pattern {
	case "*":
		return &Matcher{Pattern: pattern, wildPrefix: true, wildSuffix: true}, nil
	case "*.*":
		return &Matcher{Pattern: pattern, wildPrefix: true, wildSuffix: true, fixedPart: "."}, nil
	}

	m := &Matcher{
		Pattern:    pattern,
		wildPrefix: strings.HasPrefix(pattern, "*."),
		wildSuffix: strings.HasSuffix(pattern, ".*"),
	}

	domain := pattern
	if m.wildPrefix {
		domain = domain[2:]
	}
	if m.wildSuffix && len(domain) >= 2 {
		domain = domain[:len(domain)-2]
	}

	n, err := TryParse(domain)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid host name pattern", pattern)
	}

	m.fixedPart = n.Punycode
	if m.wildPrefix {
		m.fixedPart = "." + m.fixedPart
	}
	if m.wildSuffix {
		m.fixedPart += "."
	}

	return m, nil
}

// Match returns a score indicating how well host matches the pattern. A score
// of zero means there is no match. Longer patterns score higher, and an exact
// match scores higher than any wildcard match.
func (m *Matcher) Match(host string) int {
	host = Normalize(host)
	score := 1 + len(m.fixedPart)

	switch {
	case m.wildPrefix && m.wildSuffix:
		if strings.Contains(host, m.fixedPart) {
			return score
		}
	case m.wildPrefix:
		if strings.HasSuffix(host, m.fixedPart) {
			return score
		}
	case m.wildSuffix:
		if strings.HasPrefix(host, m.fixedPart) {
			return score
		}
	case host == m.fixedPart:
		return int(^uint(0) >> 1)
	}

	return 0
}

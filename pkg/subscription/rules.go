package subscription

import (
	"strings"

	"subgate.io/subgate/models"
)

// MatchKind is how a route pattern matches a domain.
type MatchKind int

const (
	MatchSuffix MatchKind = iota
	MatchFull
	MatchKeyword
	MatchRegexp
)

// Pattern is a parsed route-rule match pattern.
type Pattern struct {
	Kind  MatchKind
	Value string
}

// ParsePattern splits "domain:", "full:", "keyword:" and "regexp:" prefixes.
// A bare value is a domain suffix.
func ParsePattern(s string) Pattern {
	s = strings.TrimSpace(s)
	for prefix, kind := range map[string]MatchKind{
		"domain:":  MatchSuffix,
		"full:":    MatchFull,
		"keyword:": MatchKeyword,
		"regexp:":  MatchRegexp,
	} {
		if v, ok := strings.CutPrefix(s, prefix); ok {
			return Pattern{Kind: kind, Value: v}
		}
	}
	return Pattern{Kind: MatchSuffix, Value: s}
}

// groupedPatterns buckets a rule's patterns by match kind, keeping order.
type groupedPatterns struct {
	Suffix, Full, Keyword, Regexp []string
}

func groupPatterns(rule models.RouteRule) groupedPatterns {
	var g groupedPatterns
	for _, m := range rule.Match {
		p := ParsePattern(m)
		if p.Value == "" {
			continue
		}
		switch p.Kind {
		case MatchFull:
			g.Full = append(g.Full, p.Value)
		case MatchKeyword:
			g.Keyword = append(g.Keyword, p.Value)
		case MatchRegexp:
			g.Regexp = append(g.Regexp, p.Value)
		default:
			g.Suffix = append(g.Suffix, p.Value)
		}
	}
	return g
}

func (g groupedPatterns) empty() bool {
	return len(g.Suffix)+len(g.Full)+len(g.Keyword)+len(g.Regexp) == 0
}

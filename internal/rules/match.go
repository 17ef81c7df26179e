package rules

import (
	"cmp"
	"slices"
	"strings"

	"github.com/rivo/uniseg"
)

// Matcher holds triggers pre-sorted for suffix matching: longest first,
// then lexically smallest, so the first hit is the winner.
type Matcher struct {
	rules []Rule
}

// NewMatcher builds a Matcher over rules. Empty triggers are dropped.
func NewMatcher(rules map[string]string) *Matcher {
	type ranked struct {
		rule   Rule
		length int
	}
	candidates := make([]ranked, 0, len(rules))
	for trigger, replacement := range rules {
		if trigger == "" {
			continue
		}
		candidates = append(candidates, ranked{
			rule:   Rule{Trigger: trigger, Replacement: replacement},
			length: uniseg.GraphemeClusterCount(trigger),
		})
	}

	slices.SortFunc(candidates, func(a, b ranked) int {
		if c := cmp.Compare(b.length, a.length); c != 0 {
			return c
		}
		return strings.Compare(a.rule.Trigger, b.rule.Trigger)
	})

	m := &Matcher{rules: make([]Rule, len(candidates))}
	for i, c := range candidates {
		m.rules[i] = c.rule
	}
	return m
}

// Match returns the winning rule whose trigger is a suffix of buffer.
func (m *Matcher) Match(buffer string) (Rule, bool) {
	if m == nil || buffer == "" {
		return Rule{}, false
	}
	for _, r := range m.rules {
		if strings.HasSuffix(buffer, r.Trigger) {
			return r, true
		}
	}
	return Rule{}, false
}

// Len returns the number of matchable rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// FindMatch returns a rule from rules whose trigger is a suffix of buffer.
// Longer triggers win; equal lengths resolve to the lexically smallest.
func FindMatch(buffer string, rules map[string]string) (Rule, bool) {
	return NewMatcher(rules).Match(buffer)
}

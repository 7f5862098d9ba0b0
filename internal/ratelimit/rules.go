package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rule allows Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules maps a scope name to its rule. Scopes without a rule are not limited.
type Rules map[string]Rule

var periodUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseRate parses "<count>/<period>". The period is either a Go duration ("10m",
// "90s") or a unit word whose first letter selects seconds, minutes, hours or days
// ("min", "hour", "day").
func ParseRate(rate string) (Rule, error) {
	count, period, ok := strings.Cut(strings.TrimSpace(rate), "/")
	if !ok {
		return Rule{}, fmt.Errorf("invalid rate %q: want <count>/<period>", rate)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || limit < 0 {
		return Rule{}, fmt.Errorf("invalid rate %q: bad count", rate)
	}
	period = strings.TrimSpace(period)
	if period == "" {
		return Rule{}, fmt.Errorf("invalid rate %q: missing period", rate)
	}

	window, err := time.ParseDuration(period)
	if err != nil {
		unit, known := periodUnits[period[0]]
		if !known {
			return Rule{}, fmt.Errorf("invalid rate %q: unknown period", rate)
		}
		window = unit
	}
	if window <= 0 {
		return Rule{}, fmt.Errorf("invalid rate %q: period must be positive", rate)
	}
	return Rule{Limit: limit, Window: window}, nil
}

// ParseRules parses a scope → rate map.
func ParseRules(rates map[string]string) (Rules, error) {
	rules := make(Rules, len(rates))
	for scope, rate := range rates {
		rule, err := ParseRate(rate)
		if err != nil {
			return nil, fmt.Errorf("scope %s: %w", scope, err)
		}
		rules[scope] = rule
	}
	return rules, nil
}

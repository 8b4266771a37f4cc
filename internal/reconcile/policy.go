package reconcile

import (
	"fmt"
	"strings"
)

// Policy maps the platform's agreement status to the integrator's own
// subscription status. Statuses without an entry map to "".
type Policy map[string]string

// ParsePolicy reads "platform=local" pairs separated by commas, e.g.
// "Active=active,Inactive=cancelled". Platform statuses are matched
// case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	p := Policy{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, to, ok := strings.Cut(pair, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid agreement status mapping %q", pair)
		}
		key := strings.ToLower(from)
		if _, dup := p[key]; dup {
			return nil, fmt.Errorf("agreement status %q mapped twice", from)
		}
		p[key] = to
	}
	return p, nil
}

// SubscriptionStatus returns the local status for a platform agreement status
func (p Policy) SubscriptionStatus(agreementStatus string) string {
	if agreementStatus == "" {
		return ""
	}
	return p[strings.ToLower(agreementStatus)]
}

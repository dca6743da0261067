package ratelimit

// Policy is an ordered set of limiters forming one rate-limit tier. A request
// is admitted only when every limiter in the policy admits it.
type Policy struct {
	limiters []*Limiter
}

// NewPolicy creates a policy from the given limiters.
func NewPolicy(limiters ...*Limiter) *Policy {
	return &Policy{limiters: limiters}
}

// Allow runs the key through every limiter in order. On denial it returns the
// denying limiter's Info; when all admit, it returns the Info with the fewest
// remaining requests so callers advertise the tightest ceiling.
func (p *Policy) Allow(key string) (bool, Info) {
	var tightest Info
	for i, l := range p.limiters {
		allowed, info := l.Allow(key)
		if !allowed {
			return false, info
		}
		if i == 0 || info.Remaining < tightest.Remaining {
			tightest = info
		}
	}
	return true, tightest
}

// Close closes every limiter in the policy.
func (p *Policy) Close() {
	for _, l := range p.limiters {
		l.Close()
	}
}

package strategy

// SelectionContext carries the per-request inputs a strategy consumes
// (spec §3 SelectionContext).
type SelectionContext struct {
	SessionKey     string
	TargetCountry  string
	TargetRegion   string
	FailedProxyIDs map[string]struct{}
	Attempt        int
}

// NewContext returns a zero-value context ready for a fresh request.
func NewContext() SelectionContext {
	return SelectionContext{FailedProxyIDs: make(map[string]struct{})}
}

// WithFailed returns a copy of ctx with id added to the failed set and the
// attempt counter incremented, ready for the next retry loop iteration.
func (c SelectionContext) WithFailed(id string) SelectionContext {
	next := make(map[string]struct{}, len(c.FailedProxyIDs)+1)
	for k := range c.FailedProxyIDs {
		next[k] = struct{}{}
	}
	next[id] = struct{}{}
	c.FailedProxyIDs = next
	c.Attempt++
	return c
}

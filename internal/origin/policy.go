package origin

import (
	"net/http"
	"slices"
)

// Wildcard in an allow list admits every origin.
const Wildcard = "*"

// Policy decides which browser origins may use the HTTP and WebSocket
// endpoints. The zero value allows same-host requests only.
type Policy struct {
	allowed []string
}

// NewPolicy builds a policy from an allow list of canonical origins (as
// returned by Origin.String) or Wildcard. An empty list selects the
// same-host default; a non-empty list replaces it.
func NewPolicy(allowed []string) Policy {
	return Policy{allowed: slices.Clone(allowed)}
}

func (p Policy) AllowsAny() bool {
	return slices.Contains(p.allowed, Wildcard)
}

// Allows reports whether o may reach a server addressed as requestHost.
func (p Policy) Allows(o Origin, requestHost string) bool {
	if len(p.allowed) == 0 {
		return o.SameHost(requestHost)
	}
	want := o.String()
	return slices.ContainsFunc(p.allowed, func(entry string) bool {
		return entry == Wildcard || entry == want
	})
}

// Check validates r's Origin header and returns it in canonical form.
// Requests without an Origin header are not browser cross-origin requests and
// are allowed with an empty result.
func (p Policy) Check(r *http.Request) (string, bool) {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return "", true
	}
	o, err := Parse(raw)
	if err != nil {
		return "", false
	}
	return o.String(), p.Allows(o, r.Host)
}

// CheckOrigin has the signature expected by websocket.Upgrader.
func (p Policy) CheckOrigin(r *http.Request) bool {
	_, ok := p.Check(r)
	return ok
}

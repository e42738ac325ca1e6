// Package origin parses browser Origin headers and decides which of them may
// reach the relay.
package origin

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// Null is the serialization browsers use for opaque origins (sandboxed
// iframes, file:// pages).
const Null = "null"

var (
	ErrEmpty   = errors.New("origin is empty")
	ErrInvalid = errors.New("origin must be scheme://host[:port]")
	ErrScheme  = errors.New("origin scheme must be http or https")
)

// Origin is a parsed origin in canonical form. The zero value is the opaque
// null origin.
type Origin struct {
	// Scheme is "http" or "https".
	Scheme string
	// Authority is host[:port], lowercased, with IPv6 literals bracketed and
	// the scheme's default port removed.
	Authority string
}

// Parse validates raw as an Origin header value. Surrounding whitespace is
// ignored and a single trailing slash is tolerated; any other path, a query,
// a fragment or userinfo is rejected.
func Parse(raw string) (Origin, error) {
	s := strings.TrimSpace(raw)
	switch s {
	case "":
		return Origin{}, ErrEmpty
	case Null:
		return Origin{}, nil
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return Origin{}, ErrInvalid
	}
	if u.User != nil || u.ForceQuery || u.RawQuery != "" || u.Fragment != "" {
		return Origin{}, ErrInvalid
	}
	if u.Path != "" && u.Path != "/" {
		return Origin{}, ErrInvalid
	}
	// url.Parse has already lowercased the scheme.
	if u.Scheme != "http" && u.Scheme != "https" {
		return Origin{}, ErrScheme
	}

	authority, ok := canonicalAuthority(u.Scheme, u.Host)
	if !ok {
		return Origin{}, ErrInvalid
	}
	return Origin{Scheme: u.Scheme, Authority: authority}, nil
}

func (o Origin) IsNull() bool { return o.Scheme == "" }

func (o Origin) String() string {
	if o.IsNull() {
		return Null
	}
	return o.Scheme + "://" + o.Authority
}

// SameHost reports whether o names the host[:port] a request was sent to.
// Schemes are not compared, so an https page behind a TLS-terminating proxy
// still matches a plain-http Host. The null origin never matches.
func (o Origin) SameHost(requestHost string) bool {
	if o.IsNull() {
		return false
	}
	authority, ok := canonicalAuthority(o.Scheme, strings.TrimSpace(requestHost))
	return ok && authority == o.Authority
}

func defaultPort(scheme string) uint64 {
	if scheme == "https" {
		return 443
	}
	return 80
}

// canonicalAuthority normalizes host[:port] for scheme. Unbracketed IPv6,
// empty hosts, empty ports and port 0 are rejected.
func canonicalAuthority(scheme, authority string) (string, bool) {
	host, rawPort := authority, ""
	if i := strings.LastIndexByte(authority, ':'); i >= 0 && !strings.Contains(authority[i:], "]") {
		host, rawPort = authority[:i], authority[i+1:]
		if rawPort == "" {
			return "", false
		}
	}

	if strings.HasPrefix(host, "[") {
		if !strings.HasSuffix(host, "]") {
			return "", false
		}
		host = host[1 : len(host)-1]
	} else if strings.Contains(host, ":") {
		return "", false
	}
	host = strings.ToLower(host)
	if host == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}

	var b strings.Builder
	if strings.Contains(host, ":") {
		b.WriteString("[" + host + "]")
	} else {
		b.WriteString(host)
	}
	if port != 0 && port != defaultPort(scheme) {
		b.WriteString(":" + strconv.FormatUint(port, 10))
	}
	return b.String(), true
}

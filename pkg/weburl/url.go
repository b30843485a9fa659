// Package weburl implements the basic URL parser of the WHATWG URL Standard.
//
// Parse turns a byte buffer, optionally resolved against a base URL, into an
// immutable *URL. The accessors return the percent-encoded components; hosts
// of special schemes are IDNA-encoded. Strings returned by a URL share its
// storage and stay valid for as long as the caller holds them.
//
//	u, err := weburl.ParseString("HTTP://Example.COM:80/a/../b?q#f", nil)
//	if err != nil {
//	    return err
//	}
//	host, _ := u.Host()   // "example.com"
//	_, hasPort := u.Port() // false, 80 is the default for http
//	u.Path()              // "/b"
package weburl

import (
	"strconv"
	"strings"
)

var specialSchemes = map[string]int{
	"ftp":   21,
	"file":  -1,
	"http":  80,
	"https": 443,
	"ws":    80,
	"wss":   443,
}

// IsSpecialScheme reports whether scheme is one of ftp, file, http, https,
// ws or wss.
func IsSpecialScheme(scheme string) bool {
	_, ok := specialSchemes[scheme]
	return ok
}

// DefaultPort returns the registered default port of a special scheme.
// file has none.
func DefaultPort(scheme string) (uint16, bool) {
	p, ok := specialSchemes[scheme]
	if !ok || p < 0 {
		return 0, false
	}
	return uint16(p), true
}

// URL is a parsed URL record. The zero value is not a valid URL; obtain one
// from Parse or ParseString.
type URL struct {
	scheme   string
	username string
	password string

	host    string
	hasHost bool

	port    uint16
	hasPort bool

	// path holds the segments of a hierarchical path; opaquePath is used
	// instead when hasOpaquePath is set (e.g. "mailto:x@y").
	path          []string
	opaquePath    string
	hasOpaquePath bool

	query       string
	hasQuery    bool
	fragment    string
	hasFragment bool

	serializedPath string
	hostHeader     string
}

// freeze computes the derived strings once the parser is done with u.
func (u *URL) freeze() *URL {
	u.serializedPath = u.pathString()
	if u.hasHost {
		u.hostHeader = u.host
		if u.hasPort {
			u.hostHeader += ":" + strconv.Itoa(int(u.port))
		}
	}
	return u
}

func (u *URL) pathString() string {
	if u.hasOpaquePath {
		return u.opaquePath
	}
	var sb strings.Builder
	for _, seg := range u.path {
		sb.WriteByte('/')
		sb.WriteString(seg)
	}
	return sb.String()
}

// Scheme returns the lowercase scheme without the trailing ':'.
func (u *URL) Scheme() string { return u.scheme }

// Username returns the percent-encoded username, if any.
func (u *URL) Username() (string, bool) { return u.username, u.username != "" }

// Password returns the percent-encoded password, if any.
func (u *URL) Password() (string, bool) { return u.password, u.password != "" }

// Host returns the serialized host. It is IDNA-encoded for special schemes
// and percent-encoded otherwise; IPv6 addresses keep their brackets. Special
// schemes other than file always have a non-empty host.
func (u *URL) Host() (string, bool) { return u.host, u.hasHost }

// Hostname is Host without the brackets around an IPv6 address.
func (u *URL) Hostname() string {
	if strings.HasPrefix(u.host, "[") {
		return strings.TrimSuffix(strings.TrimPrefix(u.host, "["), "]")
	}
	return u.host
}

// Port returns the port. A port equal to the scheme's default is never
// stored, so it is reported as absent.
func (u *URL) Port() (uint16, bool) { return u.port, u.hasPort }

// Path returns the percent-encoded path.
func (u *URL) Path() string { return u.serializedPath }

// Query returns the percent-encoded query without the leading '?'.
func (u *URL) Query() (string, bool) { return u.query, u.hasQuery }

// Fragment returns the percent-encoded fragment without the leading '#'.
func (u *URL) Fragment() (string, bool) { return u.fragment, u.hasFragment }

// HostHeader returns the value of an HTTP Host header for u: the host,
// followed by ":port" when a port is present.
func (u *URL) HostHeader() string { return u.hostHeader }

// IsSpecial reports whether u has a special scheme.
func (u *URL) IsSpecial() bool { return IsSpecialScheme(u.scheme) }

// HasOpaquePath reports whether u has an opaque path, as in "mailto:a@b".
func (u *URL) HasOpaquePath() bool { return u.hasOpaquePath }

// String serializes u. Parsing the result yields an equal URL.
func (u *URL) String() string {
	var sb strings.Builder
	sb.WriteString(u.scheme)
	sb.WriteByte(':')
	if u.hasHost {
		sb.WriteString("//")
		if u.includesCredentials() {
			sb.WriteString(u.username)
			if u.password != "" {
				sb.WriteByte(':')
				sb.WriteString(u.password)
			}
			sb.WriteByte('@')
		}
		sb.WriteString(u.hostHeader)
	} else if !u.hasOpaquePath && len(u.path) > 1 && u.path[0] == "" {
		sb.WriteString("/.")
	}
	sb.WriteString(u.serializedPath)
	if u.hasQuery {
		sb.WriteByte('?')
		sb.WriteString(u.query)
	}
	if u.hasFragment {
		sb.WriteByte('#')
		sb.WriteString(u.fragment)
	}
	return sb.String()
}

// Equal reports whether u and v have identical components.
func (u *URL) Equal(v *URL) bool {
	if u == nil || v == nil {
		return u == v
	}
	return u.String() == v.String()
}

// WithoutCredentials returns u with the username and password removed.
func (u *URL) WithoutCredentials() *URL {
	if !u.includesCredentials() {
		return u
	}
	v := *u
	v.username, v.password = "", ""
	return &v
}

func (u *URL) includesCredentials() bool {
	return u.username != "" || u.password != ""
}

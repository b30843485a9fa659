package proxy

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/yolkispalkis/nwutil/pkg/weburl"
)

const (
	defaultProxyPort = 8080 // Not standard, but what most clients assume
	defaultHTTPSPort = 443
)

// Settings is the resolved proxy configuration for one URI. It is immutable
// and safe to share between goroutines.
type Settings struct {
	useProxy       bool
	host           string
	port           uint16
	username       string
	password       string
	hasCredentials bool
}

var direct = &Settings{}

// Direct returns the settings for a connection without a proxy.
func Direct() *Settings { return direct }

// UseProxy reports whether a proxy should be used.
func (s *Settings) UseProxy() bool { return s.useProxy }

// Host is the proxy hostname, IPv4 address or IPv6 address (without
// brackets). It is empty when UseProxy is false.
func (s *Settings) Host() string { return s.host }

// Port is the proxy port, or 0 when UseProxy is false.
func (s *Settings) Port() uint16 { return s.port }

// Username returns the decoded proxy username. Username and Password are
// either both present or both absent.
func (s *Settings) Username() (string, bool) { return s.username, s.hasCredentials }

// Password returns the decoded proxy password.
func (s *Settings) Password() (string, bool) { return s.password, s.hasCredentials }

// Addr is host:port suitable for net.Dial.
func (s *Settings) Addr() string {
	if !s.useProxy {
		return ""
	}
	return net.JoinHostPort(s.host, strconv.Itoa(int(s.port)))
}

// String formats the settings as a proxy URL with the password redacted.
func (s *Settings) String() string {
	if !s.useProxy {
		return "DIRECT"
	}
	var b strings.Builder
	b.WriteString("http://")
	if s.hasCredentials {
		b.Write(weburl.PercentEncode([]byte(s.username), weburl.ComponentSet))
		b.WriteString(":***@")
	}
	b.WriteString(s.Addr())
	return b.String()
}

// Equal reports whether s and o describe the same proxy.
func (s *Settings) Equal(o *Settings) bool {
	if s == nil || o == nil {
		return s == o
	}
	return *s == *o
}

// parseProxy validates a proxy description such as "host", "host:port",
// "user:pass@host:port" or "https://host". Credentials embedded in proxy
// take precedence over username and password.
func parseProxy(proxy, username, password string) (*Settings, error) {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return nil, weburl.ErrHostMissing
	}
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	u, err := weburl.ParseString(proxy, nil)
	if err != nil {
		return nil, err
	}
	defaultPort := uint16(defaultProxyPort)
	switch u.Scheme() {
	case "http":
	case "https":
		defaultPort = defaultHTTPSPort
	default:
		return nil, &weburl.ParseError{Input: proxy, Err: fmt.Errorf("unsupported proxy scheme %q", u.Scheme())}
	}

	// Re-run the serialized host through the host parser so that only a
	// domain or IP address is accepted.
	rawHost, _ := u.Host()
	host, err := weburl.ParseHost(rawHost, true)
	if err != nil {
		return nil, &weburl.ParseError{Input: proxy, Err: err}
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	s := &Settings{useProxy: true, host: host, port: defaultPort}
	if port, ok := u.Port(); ok {
		s.port = port
	} else if hasExplicitPort(proxy) {
		// The parser elides a port equal to the scheme default.
		s.port, _ = weburl.DefaultPort(u.Scheme())
	}
	if s.port == 0 {
		return nil, &weburl.ParseError{Input: proxy, Err: weburl.ErrInvalidPort}
	}

	user, hasUser := u.Username()
	pass, hasPass := u.Password()
	if hasUser || hasPass {
		s.username = weburl.PercentDecodeString(user)
		s.password = weburl.PercentDecodeString(pass)
		s.hasCredentials = true
	} else if username != "" {
		s.username = username
		s.password = password
		s.hasCredentials = true
	}
	return s, nil
}

// hasExplicitPort reports whether the authority of raw ends in ":digits".
func hasExplicitPort(raw string) bool {
	rest := raw[strings.Index(raw, "://")+3:]
	if i := strings.IndexAny(rest, "/?#\\"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if i := strings.LastIndex(rest, "]"); i >= 0 {
		rest = rest[i+1:]
	}
	i := strings.LastIndex(rest, ":")
	return i >= 0 && i < len(rest)-1
}

package pac

import (
	"log/slog"
	"strings"
)

// DirectiveKind is the keyword of one FindProxyForURL result entry.
type DirectiveKind int

const (
	DirectiveDirect DirectiveKind = iota + 1
	DirectiveProxy                // "PROXY host:port", also spelled "HTTP"
	DirectiveHTTPS
	DirectiveSOCKS
	DirectiveSOCKS4
	DirectiveSOCKS5
)

var directiveKeywords = map[string]DirectiveKind{
	"DIRECT": DirectiveDirect,
	"PROXY":  DirectiveProxy,
	"HTTP":   DirectiveProxy,
	"HTTPS":  DirectiveHTTPS,
	"SOCKS":  DirectiveSOCKS,
	"SOCKS4": DirectiveSOCKS4,
	"SOCKS5": DirectiveSOCKS5,
}

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveDirect:
		return "DIRECT"
	case DirectiveProxy:
		return "PROXY"
	case DirectiveHTTPS:
		return "HTTPS"
	case DirectiveSOCKS:
		return "SOCKS"
	case DirectiveSOCKS4:
		return "SOCKS4"
	case DirectiveSOCKS5:
		return "SOCKS5"
	}
	return "UNKNOWN"
}

// IsHTTP reports whether the directive names an HTTP proxy.
func (k DirectiveKind) IsHTTP() bool {
	return k == DirectiveProxy || k == DirectiveHTTPS
}

// Directive is one entry of a FindProxyForURL result. Arg is the proxy
// address as written by the script and is empty for DIRECT.
type Directive struct {
	Kind DirectiveKind
	Arg  string
}

func (d Directive) String() string {
	if d.Arg == "" {
		return d.Kind.String()
	}
	return d.Kind.String() + " " + d.Arg
}

// ParseDirectives splits a FindProxyForURL result such as
// "PROXY a:1; SOCKS b:2; DIRECT" into its entries, preserving order.
// Keywords are case-insensitive. Unknown keywords and proxy entries without
// an address are dropped.
func ParseDirectives(result string) []Directive {
	var out []Directive
	for _, part := range strings.Split(result, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		kind, ok := directiveKeywords[strings.ToUpper(fields[0])]
		if !ok {
			slog.Warn("Ignoring unknown directive in PAC result", "directive", strings.TrimSpace(part))
			continue
		}
		if kind == DirectiveDirect {
			out = append(out, Directive{Kind: kind})
			continue
		}
		if len(fields) != 2 {
			slog.Warn("Ignoring malformed PAC directive", "directive", strings.TrimSpace(part))
			continue
		}
		out = append(out, Directive{Kind: kind, Arg: fields[1]})
	}
	return out
}

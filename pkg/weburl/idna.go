package weburl

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// UTS #46 profiles matching the URL Standard's "domain to ASCII": no
// transitional processing, bidi and joiner checks on, hyphen checks off.
var (
	lenientProfile = idna.New(
		idna.MapForLookup(),
		idna.BidiRule(),
		idna.Transitional(false),
		idna.StrictDomainName(false),
		idna.CheckHyphens(false),
		idna.CheckJoiners(true),
		idna.VerifyDNSLength(false),
	)
	strictProfile = idna.New(
		idna.MapForLookup(),
		idna.BidiRule(),
		idna.Transitional(false),
		idna.StrictDomainName(true),
		idna.CheckHyphens(false),
		idna.CheckJoiners(true),
		idna.VerifyDNSLength(true),
	)
)

// DomainToASCII maps a Unicode domain to its ASCII-compatible encoding.
// With strict set, STD3 rules and DNS label length limits are enforced too.
func DomainToASCII(domain string, strict bool) (string, error) {
	if !strict && isPlainASCIIDomain(domain) {
		return asciiLower(domain), nil
	}

	profile := lenientProfile
	if strict {
		profile = strictProfile
	}
	ascii, err := profile.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if ascii == "" {
		return "", fmt.Errorf("%w: empty result", ErrInvalidDomain)
	}
	return ascii, nil
}

// isPlainASCIIDomain reports whether domain is ASCII and has no label that
// looks like punycode, in which case UTS #46 reduces to lowercasing.
func isPlainASCIIDomain(domain string) bool {
	if domain == "" {
		return false
	}
	for i := 0; i < len(domain); i++ {
		if domain[i] >= 0x80 {
			return false
		}
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) >= 4 && strings.EqualFold(label[:4], "xn--") {
			return false
		}
	}
	return true
}

func asciiLower(s string) string {
	for i := 0; i < len(s); i++ {
		if 'A' <= s[i] && s[i] <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if 'A' <= b[j] && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

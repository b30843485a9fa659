package weburl

import "strings"

const eof rune = -1

type state int

const (
	stateSchemeStart state = iota
	stateScheme
	stateNoScheme
	stateSpecialRelativeOrAuthority
	statePathOrAuthority
	stateRelative
	stateRelativeSlash
	stateSpecialAuthoritySlashes
	stateSpecialAuthorityIgnoreSlashes
	stateAuthority
	stateHost
	statePort
	stateFile
	stateFileSlash
	stateFileHost
	statePathStart
	statePath
	stateOpaquePath
	stateQuery
	stateFragment
)

// Parse parses input as a URL, resolving it against base when base is not
// nil. Invalid UTF-8 in input is replaced with U+FFFD before parsing. On
// failure the returned error is a *ParseError wrapping one of the Err*
// values of this package.
func Parse(input []byte, base *URL) (*URL, error) {
	u, err := newParser(decodeUTF8(input), base).run()
	if err != nil {
		return nil, &ParseError{Input: string(input), Err: err}
	}
	return u, nil
}

// ParseString is Parse for string input.
func ParseString(input string, base *URL) (*URL, error) {
	return Parse([]byte(input), base)
}

type parser struct {
	input   []rune
	pointer int
	state   state
	base    *URL
	url     *URL

	buf      []rune
	opaque   []byte
	fragment []byte

	atSignSeen        bool
	insideBrackets    bool
	passwordTokenSeen bool
}

func newParser(input string, base *URL) *parser {
	input = strings.TrimFunc(input, func(r rune) bool { return r <= 0x20 })
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		runes = append(runes, r)
	}
	return &parser{
		input: runes,
		state: stateSchemeStart,
		base:  base,
		url:   &URL{},
	}
}

// remainingStartsWith reports whether the code points after the current one
// begin with s.
func (p *parser) remainingStartsWith(s string) bool {
	i := p.pointer + 1
	for _, r := range s {
		if i >= len(p.input) || p.input[i] != r {
			return false
		}
		i++
	}
	return true
}

func (p *parser) run() (*URL, error) {
	u, base := p.url, p.base

	for p.pointer = 0; p.pointer <= len(p.input); p.pointer++ {
		c := eof
		if p.pointer < len(p.input) {
			c = p.input[p.pointer]
		}
		special := u.IsSpecial()

		switch p.state {
		case stateSchemeStart:
			if isASCIIAlpha(c) {
				p.buf = append(p.buf, toASCIILower(c))
				p.state = stateScheme
			} else {
				p.state = stateNoScheme
				p.pointer--
			}

		case stateScheme:
			switch {
			case isASCIIAlphanumeric(c) || c == '+' || c == '-' || c == '.':
				p.buf = append(p.buf, toASCIILower(c))
			case c == ':':
				u.scheme = string(p.buf)
				p.buf = p.buf[:0]
				switch {
				case u.scheme == "file":
					p.state = stateFile
				case u.IsSpecial() && base != nil && base.scheme == u.scheme:
					p.state = stateSpecialRelativeOrAuthority
				case u.IsSpecial():
					p.state = stateSpecialAuthoritySlashes
				case p.remainingStartsWith("/"):
					p.state = statePathOrAuthority
					p.pointer++
				default:
					u.hasOpaquePath = true
					p.opaque = p.opaque[:0]
					p.state = stateOpaquePath
				}
			default:
				// Not a scheme after all: start over without one.
				p.buf = p.buf[:0]
				p.state = stateNoScheme
				p.pointer = -1
			}

		case stateNoScheme:
			switch {
			case base == nil || (base.hasOpaquePath && c != '#'):
				return nil, ErrMissingScheme
			case base.hasOpaquePath && c == '#':
				u.scheme = base.scheme
				u.hasOpaquePath = true
				p.opaque = append(p.opaque[:0], base.opaquePath...)
				u.query, u.hasQuery = base.query, base.hasQuery
				p.startFragment()
			case base.scheme != "file":
				p.state = stateRelative
				p.pointer--
			default:
				p.state = stateFile
				p.pointer--
			}

		case stateSpecialRelativeOrAuthority:
			if c == '/' && p.remainingStartsWith("/") {
				p.state = stateSpecialAuthorityIgnoreSlashes
				p.pointer++
			} else {
				p.state = stateRelative
				p.pointer--
			}

		case statePathOrAuthority:
			if c == '/' {
				p.state = stateAuthority
			} else {
				p.state = statePath
				p.pointer--
			}

		case stateRelative:
			u.scheme = base.scheme
			special = u.IsSpecial()
			switch {
			case c == '/' || (special && c == '\\'):
				p.state = stateRelativeSlash
			default:
				p.inheritAuthority()
				u.path = clonePath(base.path)
				u.query, u.hasQuery = base.query, base.hasQuery
				switch {
				case c == '?':
					p.startQuery()
				case c == '#':
					p.startFragment()
				case c != eof:
					u.query, u.hasQuery = "", false
					p.shortenPath()
					p.state = statePath
					p.pointer--
				}
			}

		case stateRelativeSlash:
			switch {
			case special && (c == '/' || c == '\\'):
				p.state = stateSpecialAuthorityIgnoreSlashes
			case c == '/':
				p.state = stateAuthority
			default:
				p.inheritAuthority()
				p.state = statePath
				p.pointer--
			}

		case stateSpecialAuthoritySlashes:
			p.state = stateSpecialAuthorityIgnoreSlashes
			if c == '/' && p.remainingStartsWith("/") {
				p.pointer++
			} else {
				p.pointer--
			}

		case stateSpecialAuthorityIgnoreSlashes:
			if c != '/' && c != '\\' {
				p.state = stateAuthority
				p.pointer--
			}

		case stateAuthority:
			switch {
			case c == '@':
				p.takeCredentials()
			case c == eof || c == '/' || c == '?' || c == '#' || (special && c == '\\'):
				if p.atSignSeen && len(p.buf) == 0 {
					return nil, ErrHostMissing
				}
				p.pointer -= len(p.buf) + 1
				p.buf = p.buf[:0]
				p.state = stateHost
			default:
				p.buf = append(p.buf, c)
			}

		case stateHost:
			switch {
			case c == ':' && !p.insideBrackets:
				if len(p.buf) == 0 {
					return nil, ErrHostMissing
				}
				if err := p.setHost(special); err != nil {
					return nil, err
				}
				p.state = statePort
			case c == eof || c == '/' || c == '?' || c == '#' || (special && c == '\\'):
				p.pointer--
				if special && len(p.buf) == 0 {
					return nil, ErrHostMissing
				}
				if err := p.setHost(special); err != nil {
					return nil, err
				}
				p.state = statePathStart
			default:
				if c == '[' {
					p.insideBrackets = true
				} else if c == ']' {
					p.insideBrackets = false
				}
				p.buf = append(p.buf, c)
			}

		case statePort:
			switch {
			case isASCIIDigit(c):
				p.buf = append(p.buf, c)
			case c == eof || c == '/' || c == '?' || c == '#' || (special && c == '\\'):
				if len(p.buf) != 0 {
					port := 0
					for _, d := range p.buf {
						port = port*10 + int(d-'0')
						if port > 0xFFFF {
							return nil, ErrInvalidPort
						}
					}
					if dp, ok := DefaultPort(u.scheme); ok && int(dp) == port {
						u.port, u.hasPort = 0, false
					} else {
						u.port, u.hasPort = uint16(port), true
					}
					p.buf = p.buf[:0]
				}
				p.state = statePathStart
				p.pointer--
			default:
				return nil, ErrInvalidPort
			}

		case stateFile:
			u.scheme = "file"
			u.host, u.hasHost = "", true
			switch {
			case c == '/' || c == '\\':
				p.state = stateFileSlash
			case base != nil && base.scheme == "file":
				u.host, u.hasHost = base.host, base.hasHost
				u.path = clonePath(base.path)
				u.query, u.hasQuery = base.query, base.hasQuery
				switch {
				case c == '?':
					p.startQuery()
				case c == '#':
					p.startFragment()
				case c != eof:
					u.query, u.hasQuery = "", false
					if startsWithWindowsDriveLetter(p.input[p.pointer:]) {
						u.path = nil
					} else {
						p.shortenPath()
					}
					p.state = statePath
					p.pointer--
				}
			default:
				p.state = statePath
				p.pointer--
			}

		case stateFileSlash:
			if c == '/' || c == '\\' {
				p.state = stateFileHost
				break
			}
			if base != nil && base.scheme == "file" {
				u.host, u.hasHost = base.host, base.hasHost
				if !startsWithWindowsDriveLetter(p.input[p.pointer:]) &&
					len(base.path) > 0 && isNormalizedWindowsDriveLetter(base.path[0]) {
					u.path = append(u.path, base.path[0])
				}
			}
			p.state = statePath
			p.pointer--

		case stateFileHost:
			if c != eof && c != '/' && c != '\\' && c != '?' && c != '#' {
				p.buf = append(p.buf, c)
				break
			}
			p.pointer--
			switch {
			case isWindowsDriveLetter(p.buf):
				// The buffer is reused as the first path segment.
				p.state = statePath
			case len(p.buf) == 0:
				u.host, u.hasHost = "", true
				p.state = statePathStart
			default:
				if err := p.setHost(true); err != nil {
					return nil, err
				}
				if u.host == "localhost" {
					u.host = ""
				}
				p.state = statePathStart
			}

		case statePathStart:
			switch {
			case special:
				p.state = statePath
				if c != '/' && c != '\\' {
					p.pointer--
				}
			case c == '?':
				p.startQuery()
			case c == '#':
				p.startFragment()
			case c != eof:
				p.state = statePath
				if c != '/' {
					p.pointer--
				}
			}

		case statePath:
			slash := c == '/' || (special && c == '\\')
			if !slash && c != eof && c != '?' && c != '#' {
				p.buf = appendEncodedRunes(p.buf, c, PathSet)
				break
			}
			seg := string(p.buf)
			switch {
			case isDoubleDotSegment(seg):
				p.shortenPath()
				if !slash {
					u.path = append(u.path, "")
				}
			case isSingleDotSegment(seg):
				if !slash {
					u.path = append(u.path, "")
				}
			default:
				if u.scheme == "file" && len(u.path) == 0 && isWindowsDriveLetter(p.buf) {
					seg = seg[:1] + ":"
				}
				u.path = append(u.path, seg)
			}
			p.buf = p.buf[:0]
			switch c {
			case '?':
				p.startQuery()
			case '#':
				p.startFragment()
			}

		case stateOpaquePath:
			switch {
			case c == '?':
				p.startQuery()
			case c == '#':
				p.startFragment()
			case c != eof:
				p.opaque = appendEncodedRune(p.opaque, c, C0ControlSet)
			}

		case stateQuery:
			if c != '#' && c != eof {
				p.buf = append(p.buf, c)
				break
			}
			set := QuerySet
			if special {
				set = SpecialQuerySet
			}
			var q []byte
			for _, r := range p.buf {
				q = appendEncodedRune(q, r, set)
			}
			u.query = string(q)
			p.buf = p.buf[:0]
			if c == '#' {
				p.startFragment()
			}

		case stateFragment:
			if c != eof {
				p.fragment = appendEncodedRune(p.fragment, c, FragmentSet)
			}
		}
	}

	if u.hasOpaquePath {
		u.opaquePath = string(p.opaque)
	}
	if u.hasFragment {
		u.fragment = string(p.fragment)
	}
	return u.freeze(), nil
}

func (p *parser) startQuery() {
	p.url.query, p.url.hasQuery = "", true
	p.buf = p.buf[:0]
	p.state = stateQuery
}

func (p *parser) startFragment() {
	p.url.fragment, p.url.hasFragment = "", true
	p.fragment = p.fragment[:0]
	p.state = stateFragment
}

func (p *parser) inheritAuthority() {
	u, base := p.url, p.base
	u.username, u.password = base.username, base.password
	u.host, u.hasHost = base.host, base.hasHost
	u.port, u.hasPort = base.port, base.hasPort
}

// takeCredentials moves the buffered userinfo into username and password.
// A second '@' means the first one was part of the credentials.
func (p *parser) takeCredentials() {
	u := p.url
	if p.atSignSeen {
		p.buf = append([]rune("%40"), p.buf...)
	}
	p.atSignSeen = true
	var user, pass []byte
	for _, r := range p.buf {
		if r == ':' && !p.passwordTokenSeen {
			p.passwordTokenSeen = true
			continue
		}
		if p.passwordTokenSeen {
			pass = appendEncodedRune(pass, r, UserinfoSet)
		} else {
			user = appendEncodedRune(user, r, UserinfoSet)
		}
	}
	u.username += string(user)
	u.password += string(pass)
	p.buf = p.buf[:0]
}

func (p *parser) setHost(special bool) error {
	host, err := ParseHost(string(p.buf), special)
	if err != nil {
		return err
	}
	p.url.host, p.url.hasHost = host, true
	p.buf = p.buf[:0]
	return nil
}

func (p *parser) shortenPath() {
	u := p.url
	if u.scheme == "file" && len(u.path) == 1 && isNormalizedWindowsDriveLetter(u.path[0]) {
		return
	}
	if len(u.path) > 0 {
		u.path = u.path[:len(u.path)-1]
	}
}

func clonePath(path []string) []string {
	return append([]string(nil), path...)
}

func appendEncodedRunes(dst []rune, r rune, set EncodeSet) []rune {
	var tmp [12]byte
	for _, b := range appendEncodedRune(tmp[:0], r, set) {
		dst = append(dst, rune(b))
	}
	return dst
}

func isSingleDotSegment(s string) bool {
	return s == "." || strings.EqualFold(s, "%2e")
}

func isDoubleDotSegment(s string) bool {
	switch strings.ToLower(s) {
	case "..", ".%2e", "%2e.", "%2e%2e":
		return true
	}
	return false
}

func isWindowsDriveLetter(s []rune) bool {
	return len(s) == 2 && isASCIIAlpha(s[0]) && (s[1] == ':' || s[1] == '|')
}

func isNormalizedWindowsDriveLetter(s string) bool {
	return len(s) == 2 && isASCIIAlpha(rune(s[0])) && s[1] == ':'
}

func startsWithWindowsDriveLetter(s []rune) bool {
	if len(s) < 2 || !isWindowsDriveLetter(s[:2]) {
		return false
	}
	if len(s) == 2 {
		return true
	}
	switch s[2] {
	case '/', '\\', '?', '#':
		return true
	}
	return false
}

func isASCIIAlpha(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
}

func isASCIIDigit(r rune) bool {
	return '0' <= r && r <= '9'
}

func isASCIIAlphanumeric(r rune) bool {
	return isASCIIAlpha(r) || isASCIIDigit(r)
}

func toASCIILower(r rune) rune {
	if 'A' <= r && r <= 'Z' {
		return r + 'a' - 'A'
	}
	return r
}

package weburl

import "unicode/utf8"

// EncodeSet selects which code points are escaped by PercentEncode.
type EncodeSet int

const (
	C0ControlSet EncodeSet = iota
	FragmentSet
	QuerySet
	SpecialQuerySet
	PathSet
	UserinfoSet
	ComponentSet
)

const upperhex = "0123456789ABCDEF"

// inSet reports whether the ASCII byte c must be escaped in set. Bytes above
// 0x7E are always escaped and are handled by the caller.
func inSet(c byte, set EncodeSet) bool {
	if c < 0x20 || c > 0x7E {
		return true
	}
	switch set {
	case C0ControlSet:
		return false
	case FragmentSet:
		return c == ' ' || c == '"' || c == '<' || c == '>' || c == '`'
	}

	// query
	if c == ' ' || c == '"' || c == '#' || c == '<' || c == '>' {
		return true
	}
	switch set {
	case QuerySet:
		return false
	case SpecialQuerySet:
		return c == '\''
	}

	// path
	if c == '?' || c == '`' || c == '{' || c == '}' {
		return true
	}
	if set == PathSet {
		return false
	}

	// userinfo
	switch c {
	case '/', ':', ';', '=', '@', '[', '\\', ']', '^', '|':
		return true
	}
	if set == UserinfoSet {
		return false
	}

	// component
	return c == '$' || c == '%' || c == '&' || c == '+' || c == ','
}

// PercentEncode escapes every byte of b that falls in set. Non-ASCII bytes
// are always escaped, which yields the UTF-8 percent-encoding of the input.
func PercentEncode(b []byte, set EncodeSet) []byte {
	n := 0
	for _, c := range b {
		if inSet(c, set) {
			n++
		}
	}
	if n == 0 {
		return append([]byte(nil), b...)
	}
	out := make([]byte, 0, len(b)+2*n)
	for _, c := range b {
		if inSet(c, set) {
			out = append(out, '%', upperhex[c>>4], upperhex[c&0x0F])
		} else {
			out = append(out, c)
		}
	}
	return out
}

// appendEncodedRune appends the UTF-8 percent-encoding of r in set to dst.
func appendEncodedRune(dst []byte, r rune, set EncodeSet) []byte {
	if r < utf8.RuneSelf {
		c := byte(r)
		if inSet(c, set) {
			return append(dst, '%', upperhex[c>>4], upperhex[c&0x0F])
		}
		return append(dst, c)
	}
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	for _, c := range buf[:n] {
		dst = append(dst, '%', upperhex[c>>4], upperhex[c&0x0F])
	}
	return dst
}

func encodeString(s string, set EncodeSet) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = appendEncodedRune(out, r, set)
	}
	return string(out)
}

// PercentDecode decodes %XX triplets. A '%' that does not start a valid
// triplet is copied through unchanged.
func PercentDecode(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == '%' && i+2 < len(b) && isHex(b[i+1]) && isHex(b[i+2]) {
			out = append(out, unhex(b[i+1])<<4|unhex(b[i+2]))
			i += 2
			continue
		}
		out = append(out, c)
	}
	return out
}

// PercentDecodeString is the string form of PercentDecode.
func PercentDecodeString(s string) string {
	return string(PercentDecode([]byte(s)))
}

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

package weburl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

func isForbiddenHostCodePoint(r rune) bool {
	switch r {
	case 0x00, '\t', '\n', '\r', ' ', '#', '/', ':', '<', '>', '?', '@', '[', '\\', ']', '^', '|':
		return true
	}
	return false
}

func isForbiddenDomainCodePoint(r rune) bool {
	return isForbiddenHostCodePoint(r) || r <= 0x1F || r == '%' || r == 0x7F
}

// ParseHost runs the host parser on input. Special schemes get domain
// processing (percent-decoding, IDNA, IPv4); other schemes get an opaque,
// percent-encoded host. Bracketed input is always parsed as IPv6. The result
// is the serialized host.
func ParseHost(input string, special bool) (string, error) {
	if strings.HasPrefix(input, "[") {
		if !strings.HasSuffix(input, "]") {
			return "", fmt.Errorf("%w: unclosed bracket", ErrInvalidIPv6)
		}
		addr, err := parseIPv6([]rune(input[1 : len(input)-1]))
		if err != nil {
			return "", err
		}
		return "[" + serializeIPv6(addr) + "]", nil
	}
	if !special {
		return parseOpaqueHost(input)
	}
	if input == "" {
		return "", ErrHostMissing
	}

	domain := decodeUTF8(PercentDecode([]byte(input)))
	ascii, err := DomainToASCII(domain, false)
	if err != nil {
		return "", err
	}
	for _, r := range ascii {
		if isForbiddenDomainCodePoint(r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidHostCodePoint, r)
		}
	}
	if endsInANumber(ascii) {
		v4, err := parseIPv4(ascii)
		if err != nil {
			return "", err
		}
		return serializeIPv4(v4), nil
	}
	return ascii, nil
}

// decodeUTF8 turns b into a string, replacing each invalid byte with U+FFFD.
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	for len(b) > 0 {
		r, n := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[n:]
	}
	return sb.String()
}

func parseOpaqueHost(input string) (string, error) {
	for _, r := range input {
		if isForbiddenHostCodePoint(r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidHostCodePoint, r)
		}
	}
	return encodeString(input, C0ControlSet), nil
}

func endsInANumber(input string) bool {
	parts := strings.Split(input, ".")
	if parts[len(parts)-1] == "" {
		if len(parts) == 1 {
			return false
		}
		parts = parts[:len(parts)-1]
	}
	last := parts[len(parts)-1]
	if last != "" && strings.Trim(last, "0123456789") == "" {
		return true
	}
	_, ok := parseIPv4Number(last)
	return ok
}

// ipv4NumberCap keeps oversized parts from overflowing; anything at or above
// it is out of range for every position anyway.
const ipv4NumberCap = 1 << 40

func parseIPv4Number(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	radix := uint64(10)
	switch {
	case len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X"):
		radix = 16
		s = s[2:]
	case len(s) >= 2 && s[0] == '0':
		radix = 8
		s = s[1:]
	}
	if s == "" {
		return 0, true
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		var d uint64
		c := s[i]
		switch {
		case '0' <= c && c <= '9':
			d = uint64(c - '0')
		case radix == 16 && 'a' <= c && c <= 'f':
			d = uint64(c-'a') + 10
		case radix == 16 && 'A' <= c && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, false
		}
		if d >= radix {
			return 0, false
		}
		if n < ipv4NumberCap {
			n = n*radix + d
		}
	}
	return n, true
}

func parseIPv4(input string) (uint32, error) {
	parts := strings.Split(input, ".")
	if parts[len(parts)-1] == "" && len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	if len(parts) > 4 {
		return 0, fmt.Errorf("%w: too many parts in %q", ErrInvalidIPv4, input)
	}
	numbers := make([]uint64, 0, len(parts))
	for _, part := range parts {
		n, ok := parseIPv4Number(part)
		if !ok {
			return 0, fmt.Errorf("%w: non-numeric part %q", ErrInvalidIPv4, part)
		}
		numbers = append(numbers, n)
	}
	last := numbers[len(numbers)-1]
	for _, n := range numbers[:len(numbers)-1] {
		if n > 255 {
			return 0, fmt.Errorf("%w: part out of range in %q", ErrInvalidIPv4, input)
		}
	}
	if last >= uint64(1)<<(8*(5-len(numbers))) {
		return 0, fmt.Errorf("%w: last part out of range in %q", ErrInvalidIPv4, input)
	}
	ipv4 := last
	for i, n := range numbers[:len(numbers)-1] {
		ipv4 += n << (8 * (3 - i))
	}
	return uint32(ipv4), nil
}

func serializeIPv4(addr uint32) string {
	var sb strings.Builder
	for i := 3; i >= 0; i-- {
		sb.WriteString(strconv.Itoa(int(addr >> (8 * i) & 0xFF)))
		if i != 0 {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

func hexValue(r rune) (uint16, bool) {
	switch {
	case '0' <= r && r <= '9':
		return uint16(r - '0'), true
	case 'a' <= r && r <= 'f':
		return uint16(r-'a') + 10, true
	case 'A' <= r && r <= 'F':
		return uint16(r-'A') + 10, true
	}
	return 0, false
}

func parseIPv6(input []rune) ([8]uint16, error) {
	var address [8]uint16
	pieceIndex := 0
	compress := -1
	pointer := 0

	at := func(i int) rune {
		if i < len(input) {
			return input[i]
		}
		return eof
	}
	fail := func(reason string) ([8]uint16, error) {
		return [8]uint16{}, fmt.Errorf("%w: %s", ErrInvalidIPv6, reason)
	}

	if at(pointer) == ':' {
		if at(pointer+1) != ':' {
			return fail("invalid compression")
		}
		pointer += 2
		pieceIndex++
		compress = pieceIndex
	}

pieces:
	for at(pointer) != eof {
		if pieceIndex == 8 {
			return fail("too many pieces")
		}
		if at(pointer) == ':' {
			if compress != -1 {
				return fail("multiple compression")
			}
			pointer++
			pieceIndex++
			compress = pieceIndex
			continue
		}

		var value uint16
		length := 0
		for length < 4 {
			d, ok := hexValue(at(pointer))
			if !ok {
				break
			}
			value = value*0x10 + d
			pointer++
			length++
		}

		switch at(pointer) {
		case '.':
			if length == 0 {
				return fail("empty IPv4 part")
			}
			pointer -= length
			if pieceIndex > 6 {
				return fail("IPv4 part has too many pieces before it")
			}
			numbersSeen := 0
			for at(pointer) != eof {
				ipv4Piece := -1
				if numbersSeen > 0 {
					if at(pointer) == '.' && numbersSeen < 4 {
						pointer++
					} else {
						return fail("invalid IPv4 code point")
					}
				}
				if c := at(pointer); c < '0' || c > '9' {
					return fail("invalid IPv4 code point")
				}
				for c := at(pointer); '0' <= c && c <= '9'; c = at(pointer) {
					number := int(c - '0')
					switch ipv4Piece {
					case -1:
						ipv4Piece = number
					case 0:
						return fail("leading zero in IPv4 part")
					default:
						ipv4Piece = ipv4Piece*10 + number
					}
					if ipv4Piece > 255 {
						return fail("IPv4 part out of range")
					}
					pointer++
				}
				address[pieceIndex] = address[pieceIndex]*0x100 + uint16(ipv4Piece)
				numbersSeen++
				if numbersSeen == 2 || numbersSeen == 4 {
					pieceIndex++
				}
			}
			if numbersSeen != 4 {
				return fail("too few IPv4 parts")
			}
			// The IPv4 tail consumed the rest of the input.
			break pieces
		case ':':
			pointer++
			if at(pointer) == eof {
				return fail("trailing colon")
			}
		case eof:
		default:
			return fail("invalid code point")
		}
		address[pieceIndex] = value
		pieceIndex++
	}

	if compress != -1 {
		swaps := pieceIndex - compress
		pieceIndex = 7
		for pieceIndex != 0 && swaps > 0 {
			j := compress + swaps - 1
			address[pieceIndex], address[j] = address[j], address[pieceIndex]
			pieceIndex--
			swaps--
		}
	} else if pieceIndex != 8 {
		return fail("too few pieces")
	}
	return address, nil
}

func serializeIPv6(address [8]uint16) string {
	// Longest run of two or more zero pieces, first one on ties.
	compress, best := -1, 1
	for i := 0; i < 8; {
		if address[i] != 0 {
			i++
			continue
		}
		j := i
		for j < 8 && address[j] == 0 {
			j++
		}
		if j-i > best {
			compress, best = i, j-i
		}
		i = j
	}

	var sb strings.Builder
	ignore0 := false
	for i := 0; i < 8; i++ {
		if ignore0 && address[i] == 0 {
			continue
		}
		ignore0 = false
		if compress == i {
			if i == 0 {
				sb.WriteString("::")
			} else {
				sb.WriteByte(':')
			}
			ignore0 = true
			continue
		}
		sb.WriteString(strconv.FormatUint(uint64(address[i]), 16))
		if i != 7 {
			sb.WriteByte(':')
		}
	}
	return sb.String()
}

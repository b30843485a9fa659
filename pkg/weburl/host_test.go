package weburl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHost(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		special bool
		want    string
		wantErr error
	}{
		{name: "lowercases domain", input: "EXAMPLE.com", special: true, want: "example.com"},
		{name: "percent decoded domain", input: "ex%41mple.com", special: true, want: "example.com"},
		{name: "idna", input: "münchen.de", special: true, want: "xn--mnchen-3ya.de"},
		{name: "punycode kept", input: "xn--mnchen-3ya.de", special: true, want: "xn--mnchen-3ya.de"},
		{name: "ipv4 dotted", input: "127.0.0.1", special: true, want: "127.0.0.1"},
		{name: "ipv4 hex", input: "0x7F000001", special: true, want: "127.0.0.1"},
		{name: "ipv4 short form", input: "1.2.3", special: true, want: "1.2.0.3"},
		{name: "ipv4 octal", input: "0300.0250.0.1", special: true, want: "192.168.0.1"},
		{name: "ipv4 trailing dot", input: "10.0.0.1.", special: true, want: "10.0.0.1"},
		{name: "ipv6 compressed", input: "[2001:db8:0:0:0:0:2:1]", special: true, want: "[2001:db8::2:1]"},
		{name: "ipv6 all zero", input: "[0:0:0:0:0:0:0:0]", special: true, want: "[::]"},
		{name: "ipv6 longest run", input: "[1:0:0:2:0:0:0:3]", special: true, want: "[1:0:0:2::3]"},
		{name: "ipv6 trailing compression", input: "[1::]", special: true, want: "[1::]"},
		{name: "ipv6 with ipv4 tail", input: "[::ffff:192.168.0.1]", special: true, want: "[::ffff:c0a8:1]"},
		{name: "ipv6 uppercase", input: "[::ABCD]", special: true, want: "[::abcd]"},
		{name: "ipv6 in opaque host", input: "[::1]", special: false, want: "[::1]"},
		{name: "opaque kept", input: "Ex%20ample", special: false, want: "Ex%20ample"},
		{name: "opaque non-ascii", input: "héllo", special: false, want: "h%C3%A9llo"},
		{name: "opaque empty", input: "", special: false, want: ""},

		{name: "empty special", input: "", special: true, wantErr: ErrHostMissing},
		{name: "space in domain", input: "exa mple.com", special: true, wantErr: ErrInvalidHostCodePoint},
		{name: "encoded forbidden", input: "a%2Fb", special: true, wantErr: ErrInvalidHostCodePoint},
		{name: "space in opaque", input: "exa mple", special: false, wantErr: ErrInvalidHostCodePoint},
		{name: "ipv4 out of range", input: "192.168.0.257", special: true, wantErr: ErrInvalidIPv4},
		{name: "ipv4 too large", input: "4294967296", special: true, wantErr: ErrInvalidIPv4},
		{name: "ipv4 too many parts", input: "1.2.3.4.5", special: true, wantErr: ErrInvalidIPv4},
		{name: "numeric last label", input: "foo.09", special: true, wantErr: ErrInvalidIPv4},
		{name: "ipv6 unclosed", input: "[::1", special: true, wantErr: ErrInvalidIPv6},
		{name: "ipv6 bad char", input: "[::g]", special: true, wantErr: ErrInvalidIPv6},
		{name: "ipv6 too few", input: "[1:2:3]", special: true, wantErr: ErrInvalidIPv6},
		{name: "ipv6 double compression", input: "[1::2::3]", special: true, wantErr: ErrInvalidIPv6},
		{name: "ipv6 short ipv4 tail", input: "[::1.2.3]", special: true, wantErr: ErrInvalidIPv6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHost(tt.input, tt.special)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomainToASCII(t *testing.T) {
	got, err := DomainToASCII("Bücher.example", false)
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", got)

	got, err = DomainToASCII("WWW.Example.ORG", true)
	require.NoError(t, err)
	assert.Equal(t, "www.example.org", got)

	long := strings.Repeat("a", 64) + ".com"
	got, err = DomainToASCII(long, false)
	require.NoError(t, err)
	assert.Equal(t, long, got)

	_, err = DomainToASCII(long, true)
	assert.ErrorIs(t, err, ErrInvalidDomain)

	_, err = DomainToASCII("", true)
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

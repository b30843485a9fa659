package pac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   []Directive
	}{
		{name: "empty", result: "", want: nil},
		{name: "direct", result: "DIRECT", want: []Directive{{Kind: DirectiveDirect}}},
		{
			name:   "ordered list",
			result: "PROXY a:1; SOCKS b:2; DIRECT",
			want: []Directive{
				{Kind: DirectiveProxy, Arg: "a:1"},
				{Kind: DirectiveSOCKS, Arg: "b:2"},
				{Kind: DirectiveDirect},
			},
		},
		{
			name:   "case and whitespace",
			result: "  proxy   a:1 ;;https b ; Socks5 c:1080;socks4 d:1",
			want: []Directive{
				{Kind: DirectiveProxy, Arg: "a:1"},
				{Kind: DirectiveHTTPS, Arg: "b"},
				{Kind: DirectiveSOCKS5, Arg: "c:1080"},
				{Kind: DirectiveSOCKS4, Arg: "d:1"},
			},
		},
		{
			name:   "http alias",
			result: "HTTP h:3128",
			want:   []Directive{{Kind: DirectiveProxy, Arg: "h:3128"}},
		},
		{
			name:   "unknown and malformed dropped",
			result: "FTP x:21; PROXY; PROXY a b; DIRECT",
			want:   []Directive{{Kind: DirectiveDirect}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDirectives(tt.result))
		})
	}
}

func TestDirectiveString(t *testing.T) {
	assert.Equal(t, "DIRECT", Directive{Kind: DirectiveDirect}.String())
	assert.Equal(t, "PROXY a:1", Directive{Kind: DirectiveProxy, Arg: "a:1"}.String())
	assert.True(t, DirectiveHTTPS.IsHTTP())
	assert.False(t, DirectiveSOCKS5.IsHTTP())
}

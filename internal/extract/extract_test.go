package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLsDecodesEntitiesAndTrimsPunctuation(t *testing.T) {
	t.Parallel()

	got := URLs("See https://x.com/a?b=1&amp;c=2.")
	require.Equal(t, []string{"https://x.com/a?b=1&c=2"}, got)
}

func TestURLsTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "whitespace only", in: "   \n\t", want: nil},
		{name: "no urls", in: "just some words, ftp://nope.example and mailto:x@y.z", want: nil},
		{
			name: "trailing punctuation run",
			in:   "(watch https://video.example.com/v/123?!). Then stop",
			want: []string{"https://video.example.com/v/123"},
		},
		{
			name: "dedup preserves first-seen order",
			in:   "https://b.example/x https://a.example/y https://b.example/x",
			want: []string{"https://b.example/x", "https://a.example/y"},
		},
		{
			name: "html attributes",
			in:   `<a href="https://shop.example/p/1">one</a><a href='http://shop.example/p/2'>two</a>`,
			want: []string{"https://shop.example/p/1", "http://shop.example/p/2"},
		},
		{
			name: "uppercase scheme",
			in:   "HTTPS://Example.com/Path",
			want: []string{"HTTPS://Example.com/Path"},
		},
		{
			name: "bare scheme dropped",
			in:   "broken https://. link",
			want: nil,
		},
		{
			name: "json encoded list",
			in:   `["https://a.example/1","https://a.example/2"]`,
			want: []string{"https://a.example/1", "https://a.example/2"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, URLs(tc.in))
		})
	}
}

func TestURLsIdempotentOnOwnOutput(t *testing.T) {
	t.Parallel()

	first := URLs("Links: https://a.example/x?y=1&amp;z=2, https://b.example/; and (https://c.example/path).")
	require.Len(t, first, 3)
	second := URLs(strings.Join(first, " "))
	require.Equal(t, first, second)
}

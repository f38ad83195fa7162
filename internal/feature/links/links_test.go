package links

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "none", text: "hello there", want: nil},
		{name: "scheme", text: "see https://example.com/a?b=1 now", want: []string{"https://example.com/a?b=1"}},
		{name: "www", text: "www.example.org/page", want: []string{"www.example.org/page"}},
		{name: "bare domain", text: "visit Example.COM today", want: []string{"Example.COM"}},
		{name: "bare domain with path", text: "go to example.com/x", want: []string{"example.com/x"}},
		{name: "trailing punctuation", text: "check http://a.io/x.", want: []string{"http://a.io/x"}},
		{
			name: "several in order",
			text: "first http://one.dev then www.two.dev and three.dev",
			want: []string{"http://one.dev", "www.two.dev", "three.dev"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Extract(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFirst(t *testing.T) {
	link, ok := First("a b https://x.io c.dev")
	if !ok || link != "https://x.io" {
		t.Fatalf("unexpected first link %q ok=%v", link, ok)
	}

	if _, ok := First("no links"); ok {
		t.Fatal("expected no link")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"https://a.io":  "https://a.io",
		"HTTP://a.io":   "HTTP://a.io",
		"www.a.io/path": "https://www.a.io/path",
		"a.io":          "https://a.io",
	}

	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

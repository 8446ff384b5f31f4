package config

import (
	"reflect"
	"testing"
)

func TestSplitWords(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "/bin/sleep 3600", []string{"/bin/sleep", "3600"}},
		{"double quoted with space", `/bin/echo "hello world"`, []string{"/bin/echo", "hello world"}},
		{"single quoted", `/bin/echo 'a b  c'`, []string{"/bin/echo", "a b  c"}},
		{"escaped space", `/bin/echo a\ b`, []string{"/bin/echo", "a b"}},
		{"extra whitespace collapses", "  /bin/true   ", []string{"/bin/true"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SplitWords(tc.in)
			if err != nil {
				t.Fatalf("SplitWords(%q): unexpected error: %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("SplitWords(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestSplitWordsErrors(t *testing.T) {
	cases := []string{
		`/bin/echo "unterminated`,
		`/bin/echo 'unterminated`,
		`/bin/echo trailing\`,
		``,
		`   `,
	}
	for _, in := range cases {
		if _, err := SplitWords(in); err == nil {
			t.Errorf("SplitWords(%q): expected error, got none", in)
		}
	}
}

package deps

import (
	"errors"
	"testing"
)

func TestExtractVersion(t *testing.T) {
	cases := []struct {
		in   string
		want Version
	}{
		{"3.9.6", Version{3, 9, 6}},
		{"Python 3.8.10", Version{3, 8, 10}},
		{"pip 23.1 from /usr/lib/python3/dist-packages/pip (python 3.11)", Version{23, 1, 0}},
		{"tool v1.2.3.4-beta", Version{1, 2, 3}},
	}
	for _, tc := range cases {
		got, err := ExtractVersion(tc.in)
		if err != nil {
			t.Fatalf("ExtractVersion(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ExtractVersion(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestExtractVersionIdempotent(t *testing.T) {
	first, err := ExtractVersion("Python 3.9.6")
	if err != nil {
		t.Fatalf("ExtractVersion() error = %v", err)
	}
	second, err := ExtractVersion(first.String())
	if err != nil {
		t.Fatalf("ExtractVersion(%q) error = %v", first.String(), err)
	}
	if first != second {
		t.Fatalf("re-parse = %v, want %v", second, first)
	}
}

func TestExtractVersionParseError(t *testing.T) {
	_, err := ExtractVersion("command not recognised")
	if !errors.Is(err, ErrVersionParse) {
		t.Fatalf("error = %v, want ErrVersionParse", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
	if _, err := ExtractVersion("version 3"); err == nil {
		t.Fatalf("single number should not parse as a version")
	}
}

func TestVersionAtLeast(t *testing.T) {
	req := Version{Major: 3, Minor: 9}
	cases := []struct {
		v    Version
		want bool
	}{
		{Version{3, 8, 10}, false},
		{Version{3, 9, 0}, true},
		{Version{3, 10, 1}, true},
		{Version{4, 0, 0}, true},
		{Version{2, 12, 0}, false},
	}
	for _, tc := range cases {
		if got := tc.v.AtLeast(req); got != tc.want {
			t.Fatalf("%v.AtLeast(%v) = %v, want %v", tc.v, req, got, tc.want)
		}
	}
}

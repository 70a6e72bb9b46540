package key

import (
	"errors"
	"testing"

	"github.com/danmuck/mcrelay/internal/testutil/testlog"
)

func TestParseDefaultsNamespace(t *testing.T) {
	testlog.Start(t)
	k, err := Parse("session")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if k.Namespace() != DefaultNamespace || k.Value() != "session" {
		t.Fatalf("unexpected key: %+v", k)
	}
	if k.String() != "minecraft:session" {
		t.Fatalf("unexpected string: %q", k.String())
	}
}

func TestParseNamespaced(t *testing.T) {
	testlog.Start(t)
	k, err := Parse("relay:auth/token_1.v2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if k != MustParse("relay:auth/token_1.v2") {
		t.Fatalf("expected comparable keys")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want error
	}{
		{"", ErrEmpty},
		{"relay:", ErrEmpty},
		{"Relay:x", ErrInvalidNamespace},
		{"ns/x:y", ErrInvalidNamespace},
		{"relay:Upper", ErrInvalidValue},
		{"relay:a:b", ErrInvalidValue},
	}
	for _, tc := range cases {
		if _, err := Parse(tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("parse %q: expected %v, got %v", tc.in, tc.want, err)
		}
	}
}

func TestZeroKey(t *testing.T) {
	testlog.Start(t)
	var k Key
	if !k.IsZero() || k.String() != "" {
		t.Fatalf("zero key should be empty")
	}
}

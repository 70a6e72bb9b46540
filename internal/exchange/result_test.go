package exchange

import (
	"testing"

	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/danmuck/mcrelay/internal/testutil/testlog"
)

func TestResultVariantsAreExclusive(t *testing.T) {
	testlog.Start(t)

	k := key.MustParse("lobby:session")
	cases := []struct {
		name    string
		result  Result
		kind    Kind
		allowed bool
		hasKey  bool
		hasData bool
	}{
		{"forward", Forward(), KindForward, true, false, false},
		{"forward as", ForwardAs(k), KindForward, true, true, false},
		{"handled", Handled(), KindHandled, false, false, false},
		{"respond", Respond(PayloadOf([]byte{1})), KindRespond, false, false, true},
		{"respond none", Respond(NoPayload()), KindRespond, false, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.Kind(); got != tc.kind {
				t.Fatalf("kind = %s, want %s", got, tc.kind)
			}
			if got := tc.result.IsAllowed(); got != tc.allowed {
				t.Fatalf("allowed = %v, want %v", got, tc.allowed)
			}
			if _, ok := tc.result.Key(); ok != tc.hasKey {
				t.Fatalf("key present = %v, want %v", ok, tc.hasKey)
			}
			if _, ok := tc.result.Payload(); ok != tc.hasData {
				t.Fatalf("payload present = %v, want %v", ok, tc.hasData)
			}
		})
	}
}

func TestZeroResultForwardsOriginalKey(t *testing.T) {
	testlog.Start(t)

	var r Result
	if !r.Equal(Forward()) {
		t.Fatalf("zero result = %s, want forward", r)
	}
	original := key.MustParse("minecraft:token")
	if got := r.KeyOr(original); got != original {
		t.Fatalf("KeyOr = %s, want %s", got, original)
	}
	rewritten := key.MustParse("proxy:token")
	if got := ForwardAs(rewritten).KeyOr(original); got != rewritten {
		t.Fatalf("KeyOr = %s, want %s", got, rewritten)
	}
}

func TestPayloadAbsentDiffersFromEmpty(t *testing.T) {
	testlog.Start(t)

	empty := PayloadOf(nil)
	none := NoPayload()
	if empty.Equal(none) {
		t.Fatal("empty payload equals absent payload")
	}
	if b, ok := empty.Bytes(); !ok || len(b) != 0 {
		t.Fatalf("empty payload = %v, %v", b, ok)
	}
	if Respond(empty).String() == Respond(none).String() {
		t.Fatal("respond strings do not distinguish empty from absent")
	}
}

func TestPayloadOfCopies(t *testing.T) {
	testlog.Start(t)

	src := []byte("abc")
	p := PayloadOf(src)
	src[0] = 'x'
	got, _ := p.Bytes()
	if string(got) != "abc" {
		t.Fatalf("payload = %q, want abc", got)
	}
	got[1] = 'y'
	again, _ := p.Bytes()
	if string(again) != "abc" {
		t.Fatalf("payload mutated through Bytes: %q", again)
	}
}

func TestResultString(t *testing.T) {
	testlog.Start(t)

	cases := map[string]Result{
		"forward to client":        Forward(),
		"forward to client as a:b": ForwardAs(key.MustParse("a:b")),
		"handled by proxy":         Handled(),
		"respond without data":     Respond(NoPayload()),
		"respond with AQI=":        Respond(PayloadOf([]byte{1, 2})),
	}
	for want, r := range cases {
		if got := r.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}

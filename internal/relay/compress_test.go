package relay

import (
	"bytes"
	"testing"

	"github.com/danmuck/mcrelay/internal/protocol/frame"
	"github.com/danmuck/mcrelay/internal/protocol/wire"
	"github.com/danmuck/mcrelay/internal/testutil/testlog"
)

func TestPackUnpack(t *testing.T) {
	testlog.Start(t)

	big := frame.Frame{ID: 0x16, Payload: bytes.Repeat([]byte("cookie"), 100)}
	small := frame.Frame{ID: 0x00, Payload: []byte{1, 2, 3}}
	for _, threshold := range []int32{CompressionOff, 0, 64, 256} {
		for _, f := range []frame.Frame{big, small} {
			body, err := pack(f, threshold)
			if err != nil {
				t.Fatalf("pack threshold=%d: %v", threshold, err)
			}
			got, err := unpack(body, threshold)
			if err != nil {
				t.Fatalf("unpack threshold=%d: %v", threshold, err)
			}
			if got.ID != f.ID || !bytes.Equal(got.Payload, f.Payload) {
				t.Fatalf("threshold=%d: got id=%d len=%d", threshold, got.ID, len(got.Payload))
			}
		}
	}
}

func TestPackStoresSmallFramesUncompressed(t *testing.T) {
	testlog.Start(t)

	body, err := pack(frame.Frame{ID: 0x02, Payload: []byte{9}}, 64)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !bytes.Equal(body, []byte{0x00, 0x02, 0x09}) {
		t.Fatalf("body = % x", body)
	}
}

func TestUnpackRejectsBadFrames(t *testing.T) {
	testlog.Start(t)

	cases := map[string][]byte{
		"truncated length": {0x80},
		"garbage deflate":  {0x05, 0x01, 0x02, 0x03},
		"negative length":  {0xff, 0xff, 0xff, 0xff, 0x0f},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := unpack(body, 64); !wire.IsDecode(err) {
				t.Fatalf("err = %v, want DecodeError", err)
			}
		})
	}
}

package relay

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/mcrelay/internal/protocol/frame"
)

// ErrSealed is returned for packet writes after encryption was negotiated on
// the connection. Only the raw byte pipe may write from then on.
var ErrSealed = errors.New("relay: connection sealed")

// CompressionOff is the threshold of a connection without compression.
const CompressionOff int32 = -1

// Inbound is one frame as read. raw and threshold let Forward pass it on
// without re-encoding when both sides agree on compression.
type Inbound struct {
	frame.Frame
	raw       []byte
	threshold int32
}

// Conn frames packets over one side of a session. Reads come from a single
// pump goroutine; writes may come from anywhere and are serialised.
type Conn struct {
	raw    net.Conn
	r      *bufio.Reader
	limits frame.Limits

	threshold atomic.Int32

	wmu    sync.Mutex
	sealed bool

	closeOnce sync.Once
	closed    atomic.Bool
}

func NewConn(c net.Conn, limits frame.Limits) *Conn {
	conn := &Conn{raw: c, r: bufio.NewReader(c), limits: limits}
	conn.threshold.Store(CompressionOff)
	return conn
}

func (c *Conn) RemoteAddr() string { return c.raw.RemoteAddr().String() }

// Read returns the next frame, decompressed when compression is on.
func (c *Conn) Read() (Inbound, error) {
	body, err := frame.ReadRaw(c.r, c.limits)
	if err != nil {
		return Inbound{}, err
	}
	th := c.threshold.Load()
	f, err := unpack(body, th)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Frame: f, raw: body, threshold: th}, nil
}

// Forward passes in on unchanged. It ignores the seal: the pumps own the
// stream and still forward the packets that negotiate encryption.
func (c *Conn) Forward(in Inbound) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	th := c.threshold.Load()
	if in.threshold == th {
		return frame.WriteRaw(c.raw, in.raw, c.limits)
	}
	body, err := pack(in.Frame, th)
	if err != nil {
		return err
	}
	return frame.WriteRaw(c.raw, body, c.limits)
}

// WriteFrame encodes f for the current compression state and writes it in one
// call. Nothing is written if encoding fails or the connection is sealed.
func (c *Conn) WriteFrame(f frame.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.sealed {
		return ErrSealed
	}
	body, err := pack(f, c.threshold.Load())
	if err != nil {
		return err
	}
	return frame.WriteRaw(c.raw, body, c.limits)
}

// SetCompression switches both directions to the compressed frame format.
// A negative threshold turns compression off.
func (c *Conn) SetCompression(threshold int32) {
	if threshold < 0 {
		threshold = CompressionOff
	}
	c.wmu.Lock()
	c.threshold.Store(threshold)
	c.wmu.Unlock()
}

func (c *Conn) Compression() int32 { return c.threshold.Load() }

// Seal stops packet writes. Forward and Pipe keep working.
func (c *Conn) Seal() {
	c.wmu.Lock()
	c.sealed = true
	c.wmu.Unlock()
}

func (c *Conn) Sealed() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.sealed
}

// Pipe copies every remaining byte of c to dst, buffered bytes first. It
// returns when c hits EOF or either side fails.
func (c *Conn) Pipe(dst *Conn) (int64, error) {
	return io.Copy(lockedWriter{dst}, c.r)
}

type lockedWriter struct{ c *Conn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.raw.Write(p)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.raw.Close()
	})
	return err
}

func (c *Conn) Closed() bool { return c.closed.Load() }

// isClosedErr reports errors that only mean the peer or the session hung up.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

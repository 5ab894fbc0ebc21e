// Package conn adapts a TCP socket to the non-blocking contract the
// protocol and supervisor packages need (spec.md section 4.3): connect
// with a timeout, buffered send tolerant of partial writes, and a framed
// receive that yields one whole BGP message or a NOP sentinel meaning
// "nothing to decode yet". Nothing here blocks longer than one syscall;
// the supervisor's readiness selector is what lets the calling goroutine
// stay the single cooperative scheduling thread.
package conn

import (
	stderrors "errors"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/queue"
)

// ErrNotConnected reports a soft connect failure — refused, unreachable,
// or timed out — the Peer treats as a back-off case rather than a
// protocol violation (spec.md section 7).
var ErrNotConnected = errors.New("conn: not connected")

// pollDeadline, applied before every read/write attempt, makes a
// blocking net.Conn behave like a non-blocking socket: a read or write
// that cannot complete within 1ms returns a timeout error instead of
// parking the calling goroutine, preserving the single-thread
// cooperative scheduling invariant without needing raw syscall access.
const pollDeadline = 1 * time.Millisecond

// Connection wraps a TCP socket plus outbound/inbound framing buffers.
type Connection struct {
	conn   net.Conn
	out    *queue.Queue
	in     []byte // partial incoming bytes, header and/or body
	closed bool
	log    *logrus.Entry
}

// Connect attempts a TCP connection to remote, bound to local if given,
// within timeout. On failure it returns ErrNotConnected wrapped with the
// underlying cause — the Peer never inspects the cause, only the
// sentinel, per spec.md section 7's NotConnected treatment.
func Connect(remote, local net.Addr, timeout time.Duration) (*Connection, error) {
	dialer := net.Dialer{Timeout: timeout}
	if local != nil {
		dialer.LocalAddr = local
	}
	c, err := dialer.Dial("tcp", remote.String())
	if err != nil {
		return nil, errors.Wrap(ErrNotConnected, err.Error())
	}
	return &Connection{
		conn: c,
		out:  queue.New(),
		log:  logrus.WithField("component", "conn").WithField("remote", remote.String()),
	}, nil
}

// Wrap adapts an already-established net.Conn (used by tests with an
// in-memory pipe, and by a future passive-accept path).
func Wrap(c net.Conn) *Connection {
	return &Connection{
		conn: c,
		out:  queue.New(),
		log:  logrus.WithField("component", "conn"),
	}
}

// Send appends bytes to the outbound buffer and attempts a non-blocking
// flush. It returns the number of octets still pending after the
// attempt; a partial write leaves the remainder at the head of the
// buffer, preserving FIFO order across multiple Send calls.
func (c *Connection) Send(b []byte) (int, error) {
	if c.closed {
		return 0, errors.New("conn: send on closed connection")
	}
	c.out.Push(b)
	if err := c.flush(); err != nil {
		return c.out.Len(), err
	}
	return c.out.Len(), nil
}

func (c *Connection) flush() error {
	for !c.out.Empty() {
		c.conn.SetWriteDeadline(time.Now().Add(pollDeadline))
		n, err := c.conn.Write(c.out.Bytes())
		if n > 0 {
			c.out.Advance(n)
		}
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return errors.Wrap(err, "conn: write failed")
		}
	}
	return nil
}

// Buffered reports the number of outbound octets not yet written.
func (c *Connection) Buffered() int {
	return c.out.Len()
}

// Drop discards any outbound bytes queued but not yet written to the
// socket. Bytes already handed to the kernel by a prior flush are not
// recalled.
func (c *Connection) Drop() {
	c.out.Reset()
}

// recvBufSize is sized to comfortably hold one max-length BGP message in
// a single syscall read; the framer below still tolerates arbitrary
// fragmentation below that.
const recvBufSize = message.MaxMessageLength

// Recv returns the next fully-framed BGP message as a decoded Message,
// or (Message{Header: Header{Type: message.NOP}}, nil) when fewer than a
// whole message's bytes are currently available. EOF on a connection
// that had already delivered at least one byte of the current frame is
// reported as an error; EOF with nothing pending is also an error, since
// a live BGP session never half-closes cleanly.
func (c *Connection) Recv() (message.Message, error) {
	if err := c.fill(); err != nil {
		return message.Message{}, err
	}
	if len(c.in) < message.HeaderLength {
		return nopMessage(), nil
	}
	header, err := message.DecodeHeader(c.in[:message.HeaderLength])
	if err != nil {
		return message.Message{}, err
	}
	if len(c.in) < int(header.Length) {
		return nopMessage(), nil
	}
	frame := c.in[:header.Length]
	m, err := message.Decode(frame)
	c.in = append([]byte(nil), c.in[header.Length:]...)
	if err != nil {
		return message.Message{}, err
	}
	return m, nil
}

func (c *Connection) fill() error {
	buf := make([]byte, recvBufSize)
	c.conn.SetReadDeadline(time.Now().Add(pollDeadline))
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.in = append(c.in, buf[:n]...)
	}
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		return errors.Wrap(err, "conn: read failed")
	}
	return nil
}

func nopMessage() message.Message {
	return message.Message{Header: message.Header{Type: message.NOP}}
}

func isTimeout(err error) bool {
	var ne net.Error
	if stderrors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// IO exposes the underlying net.Conn for the supervisor's readiness
// selector (supervisor.poller extracts the raw file descriptor from it).
func (c *Connection) IO() net.Conn {
	return c.conn
}

// Close tears down the socket. It is idempotent and safe from any state.
func (c *Connection) Close(reason string) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.log.WithField("reason", reason).Debug("closing connection")
	return c.conn.Close()
}

package transport

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

// maxLineSize bounds a single framed message.
const maxLineSize = 1024 * 1024

// StreamTransport frames newline-delimited JSON messages over a
// reader/writer pair. It backs the stdio transports on both sides of a
// connection.
type StreamTransport struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	inbound chan protocol.Message

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once

	errMu   sync.Mutex
	readErr error

	// onClose runs once when the transport shuts down, after the write
	// side is fenced off.
	onClose func() error
}

// NewStreamTransport creates a transport over the given reader/writer pair
// and starts the read loop.
func NewStreamTransport(r io.Reader, w io.Writer, logger *slog.Logger) *StreamTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &StreamTransport{
		reader:  r,
		writer:  w,
		logger:  logger,
		inbound: make(chan protocol.Message, 16),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Send writes one framed message.
func (t *StreamTransport) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-t.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Receive returns the inbound message stream.
func (t *StreamTransport) Receive() <-chan protocol.Message {
	return t.inbound
}

// Err reports the read loop's terminal error, if any.
func (t *StreamTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.readErr
}

// Close shuts the transport down and closes the underlying writer if it is
// closeable.
func (t *StreamTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		if t.onClose != nil {
			err = t.onClose()
		} else if closer, ok := t.writer.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// readLoop scans framed messages until EOF or error. Undecodable lines are
// logged and skipped so one bad frame does not kill the session.
func (t *StreamTransport) readLoop() {
	defer close(t.inbound)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	for scanner.Scan() {
		select {
		case <-t.closed:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.DecodeMessage(line)
		if err != nil {
			t.logger.Warn("dropping undecodable message", "error", err)
			continue
		}

		select {
		case t.inbound <- msg:
		case <-t.closed:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		t.errMu.Lock()
		t.readErr = err
		t.errMu.Unlock()
		t.logger.Error("transport read error", "error", err)
	}
}

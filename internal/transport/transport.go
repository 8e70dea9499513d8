// Package transport owns the TLS stream to the broker: a mutex-protected
// writer and a single background reader task. No second reader may touch
// the socket -- a historical dual-reader bug class is prevented
// structurally by Transport never exposing the raw net.Conn for reading.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/wire"
)

// Dialer opens the environment-selected TLS connection. Tests substitute a
// fake dialer to avoid real network I/O.
type Dialer interface {
	DialContext(ctx context.Context, addr string) (net.Conn, error)
}

// TLSDialer dials using the platform's native root store.
type TLSDialer struct {
	Config *tls.Config
}

// DialContext implements Dialer.
func (d TLSDialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	cfg := d.Config
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	dialer := tls.Dialer{Config: cfg}
	return dialer.DialContext(ctx, "tcp", addr)
}

// Transport is a single persistent connection: one writer mutex, one
// reader goroutine. Dispatch is invoked from the reader goroutine for every
// decoded envelope; it must not block for long or it will stall the socket.
type Transport struct {
	dialer Dialer
	addr   string
	logger *logrus.Entry

	writeMu sync.Mutex
	conn    net.Conn

	readerWG sync.WaitGroup
}

// New constructs a Transport for the given address using dialer.
func New(dialer Dialer, addr string, logger *logrus.Entry) *Transport {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{dialer: dialer, addr: addr, logger: logger.WithField("subsystem", "transport")}
}

// Connect establishes the TLS connection and starts the single reader
// goroutine, which calls dispatch for each decoded envelope and onDisconnect
// exactly once when the socket closes (clean EOF or I/O error).
func (t *Transport) Connect(ctx context.Context, dispatch func(wire.Envelope), onDisconnect func(error)) error {
	conn, err := t.dialer.DialContext(ctx, t.addr)
	if err != nil {
		return apperror.Wrap(apperror.KindTransport, err, fmt.Sprintf("connecting to %s", t.addr))
	}

	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()

	t.readerWG.Add(1)
	go t.readLoop(conn, dispatch, onDisconnect)
	return nil
}

// readLoop is the transport's single reader task.
func (t *Transport) readLoop(conn net.Conn, dispatch func(wire.Envelope), onDisconnect func(error)) {
	defer t.readerWG.Done()
	for {
		env, err := wire.ReadFrame(conn)
		if err != nil {
			t.logger.WithError(err).Info("reader task terminating: connection closed")
			onDisconnect(apperror.Wrap(apperror.KindTransport, err, "reading frame"))
			return
		}
		dispatch(env)
	}
}

// Send length-prefix-encodes and writes one envelope atomically; the writer
// lock is held for the whole frame.
func (t *Transport) Send(e wire.Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.conn == nil {
		return apperror.New(apperror.KindTransport, "send called before connect")
	}
	if err := wire.WriteFrame(t.conn, e); err != nil {
		return apperror.Wrap(apperror.KindTransport, err, "writing frame")
	}
	return nil
}

// Close shuts down the underlying connection and waits for the reader
// goroutine to observe the close.
func (t *Transport) Close() error {
	t.writeMu.Lock()
	conn := t.conn
	t.writeMu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	t.readerWG.Wait()
	return err
}

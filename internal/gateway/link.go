package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"quakewatch/internal/logger"

	"go.bug.st/serial"
)

// ErrNotConnected is returned by Send when the serial port is closed. Callers
// treat it as a non-fatal per-operation failure.
var ErrNotConnected = errors.New("gateway not connected")

const (
	// readTimeout bounds each port read so the loop can notice Close and
	// context cancellation; a timed-out read returns zero bytes, not an error.
	readTimeout = 100 * time.Millisecond
	// readErrorBackoff throttles the loop while the device is unreadable
	// (unplugged, driver hiccup) instead of spinning.
	readErrorBackoff = time.Second

	readBufSize = 4096
)

// Link is one open serial connection to the gateway device. Reads are owned
// by a single ReadLoop; writes are serialized behind a mutex so concurrent
// OTA workers cannot interleave frames.
type Link struct {
	portName string
	baud     int
	log      *logger.Logger

	mu     sync.Mutex // guards port writes and the closed flag
	port   serial.Port
	closed bool
}

// Open opens the serial port in 8N1 mode at the given baud rate.
func Open(portName string, baud int, log *logger.Logger) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %q: %w", portName, err)
	}
	log.Infow("gateway_link_open", "port", portName, "baud", baud)
	return &Link{portName: portName, baud: baud, log: log, port: port}, nil
}

// Port returns the device path the link was opened on.
func (l *Link) Port() string { return l.portName }

// Close shuts the port down. ReadLoop exits on the next read.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}

// Send marshals v as one newline-terminated JSON frame and writes it to the
// port. A write failure is returned to the caller and never tears the link
// down by itself.
func (l *Link) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrNotConnected
	}
	if _, err := l.port.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadLoop drains the port until the context is cancelled or the link is
// closed, handing every complete frame to handle in arrival order. It is the
// sole consumer of the port, so handlers observe messages in wire order.
func (l *Link) ReadLoop(ctx context.Context, handle func(line []byte)) {
	var fr FrameReader
	buf := make([]byte, readBufSize)

	for {
		if ctx.Err() != nil || l.isClosed() {
			return
		}
		n, err := l.port.Read(buf)
		if err != nil {
			if l.isClosed() {
				return
			}
			l.log.Errorw("gateway_read_failed", "port", l.portName, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		if n == 0 {
			continue // read timeout, nothing buffered
		}
		for _, line := range fr.Feed(buf[:n]) {
			handle(line)
		}
	}
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

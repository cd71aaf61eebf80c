package gateway

import "bytes"

// FrameReader turns the raw byte stream from the serial link into complete
// newline-terminated frames. Partial lines are buffered across reads, so the
// caller can feed whatever the port happened to have available.
type FrameReader struct {
	buf []byte
}

// maxBufferedFrame caps the carry-over buffer so a peer that never sends a
// newline cannot grow it without bound.
const maxBufferedFrame = 64 * 1024

// Feed appends p to the internal buffer and returns every complete frame it
// now contains, trimmed of surrounding whitespace. Empty lines are skipped.
func (f *FrameReader) Feed(p []byte) [][]byte {
	f.buf = append(f.buf, p...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(f.buf[:i])
		f.buf = f.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		frames = append(frames, out)
	}

	if len(f.buf) > maxBufferedFrame {
		f.buf = f.buf[:0]
	}
	return frames
}

// Reset discards any buffered partial line, e.g. after a reconnect.
func (f *FrameReader) Reset() {
	f.buf = f.buf[:0]
}

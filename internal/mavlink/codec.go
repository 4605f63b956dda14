package mavlink

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
)

// maxFrameLen bounds a v2 frame: header, payload, checksum and signature.
const maxFrameLen = 280

var (
	// ErrUnknownMessage is returned when encoding a message outside the
	// dialect.
	ErrUnknownMessage = errors.New("mavlink: message not in dialect")
	// ErrGarbage reports bytes discarded while looking for a start-of-frame
	// marker.
	ErrGarbage = errors.New("mavlink: discarded bytes before start of frame")
)

// IsDecodeError reports whether err describes skipped input rather than a
// failure of the underlying reader. Readers keep going after such errors.
func IsDecodeError(err error) bool {
	var re frame.ReadError
	return errors.Is(err, ErrGarbage) || errors.As(err, &re)
}

// Encoder produces MAVLink v2 frames for one system/component identity.
// Component 0 is allowed, which is how ground stations identify
// themselves. Encoder is safe for concurrent use.
type Encoder struct {
	sysID  uint8
	compID uint8

	mu  sync.Mutex
	seq uint8
	buf bytes.Buffer
	w   frame.Writer
}

// NewEncoder returns an Encoder for sysID/compID.
func NewEncoder(sysID, compID uint8) *Encoder {
	e := &Encoder{sysID: sysID, compID: compID}
	e.w.ByteWriter = &e.buf
	// Initialize only fails without a ByteWriter.
	_ = e.w.Initialize()
	return e
}

// Encode returns m wrapped in the next frame of the sequence.
func (e *Encoder) Encode(m Message) ([]byte, error) {
	rw, err := dialectRW()
	if err != nil {
		return nil, err
	}
	mp := rw.GetMessage(m.GetID())
	if mp == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, m.GetID())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fr := &frame.V2Frame{
		SequenceNumber: e.seq,
		SystemID:       e.sysID,
		ComponentID:    e.compID,
		Message:        mp.Write(m, true),
	}
	fr.Checksum = fr.GenerateChecksum(mp.CRCExtra())

	e.buf.Reset()
	if err := e.w.Write(fr); err != nil {
		return nil, err
	}
	e.seq++
	return bytes.Clone(e.buf.Bytes()), nil
}

// Reader decodes frames from a byte stream such as a TCP connection or a
// serial telemetry link. Frames with a bad checksum are reported and
// skipped; messages outside the dialect are returned undecoded.
type Reader struct {
	br *bufio.Reader
	fr frame.Reader
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) (*Reader, error) {
	rw, err := dialectRW()
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(src, 2*maxFrameLen)
	r := &Reader{br: br, fr: frame.Reader{BufByteReader: br, DialectRW: rw}}
	if err := r.fr.Initialize(); err != nil {
		return nil, err
	}
	return r, nil
}

// Read returns the next frame. Errors for which IsDecodeError holds
// describe skipped input; any other error comes from the source.
func (r *Reader) Read() (Frame, error) {
	n, err := r.skipToMarker()
	if n > 0 {
		return nil, fmt.Errorf("%w (%d bytes)", ErrGarbage, n)
	}
	if err != nil {
		return nil, err
	}
	return r.fr.Read()
}

// skipToMarker discards bytes up to the next start-of-frame marker so a
// run of garbage is reported once.
func (r *Reader) skipToMarker() (int, error) {
	n := 0
	for {
		b, err := r.br.Peek(1)
		if err != nil {
			return n, err
		}
		if b[0] == frame.V2MagicByte || b[0] == frame.V1MagicByte {
			return n, nil
		}
		_, _ = r.br.Discard(1)
		n++
	}
}

// ParseDatagram decodes every frame carried in one datagram. A datagram
// normally holds a single frame, but routers may pack several. Input that
// fails to decode, including a frame cut short by the end of the
// datagram, is reported through skipped.
func ParseDatagram(b []byte) (frames []Frame, skipped []error) {
	r, err := NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, []error{err}
	}
	for {
		f, err := r.Read()
		switch {
		case err == nil:
			frames = append(frames, f)
		case errors.Is(err, io.EOF):
			return frames, skipped
		case IsDecodeError(err):
			skipped = append(skipped, err)
		default:
			return frames, append(skipped, err)
		}
	}
}

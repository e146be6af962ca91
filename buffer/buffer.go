// Package buffer implements Pebble's in-memory read/write buffer.
//
// A Buffer is the Transport contract codecs are written against: three
// operations (write, read/readAll, and a zero-copy borrow/consume
// pair). It comes in two flavors:
//
//   - owned mode grows geometrically (next power of two) up to a hard
//     8 MiB cap;
//   - observer mode wraps a caller-supplied byte range without copying
//     or resizing, and raises BuffNotEnough on overflow.
//
// Codecs hold no state of their own; they read and write through a
// Buffer, so a Buffer (or anything implementing Transport) must not be
// shared across concurrent encoders/decoders.
package buffer

import (
	"io"

	"github.com/tencent/pebble/errs"
)

// DefaultCap is the hard ceiling on an owned buffer's size.
const DefaultCap = 8 * 1024 * 1024 // 8 MiB

// Transport is the abstract contract a Codec needs from the byte
// channel underneath it.
type Transport interface {
	io.Writer
	io.Reader

	// ReadAll reads exactly len(p) bytes, or returns an error.
	ReadAll(p []byte) error

	// Borrow returns a zero-copy view of the next n unread bytes
	// without advancing the read position. The returned slice is only
	// valid until the next Write/Consume call.
	Borrow(n int) ([]byte, error)

	// Consume advances the read position by n bytes, as if they had
	// been Read.
	Consume(n int) error

	// Len returns the number of unread bytes.
	Len() int

	// Reset discards all buffered data.
	Reset()
}

// Mode selects ownership semantics for a Buffer.
type Mode int

const (
	// ModeOwned grows its backing array geometrically up to cap.
	ModeOwned Mode = iota
	// ModeObserver wraps a fixed caller-supplied slice; writes beyond
	// its length fail with BuffNotEnough.
	ModeObserver
)

// Buffer is Pebble's concrete Transport: a byte-oriented read/write
// buffer with the borrow/own duality described above.
type Buffer struct {
	data []byte
	r, w int
	mode Mode
	cap  int // hard ceiling, only enforced in ModeOwned
}

// NewOwned creates a growable buffer. initialCap of 0 picks a small
// default; the buffer never grows past DefaultCap.
func NewOwned(initialCap int) *Buffer {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &Buffer{data: make([]byte, initialCap), mode: ModeOwned, cap: DefaultCap}
}

// NewOwnedCap creates a growable buffer with a caller-chosen hard cap
// (still bounded by DefaultCap from above).
func NewOwnedCap(initialCap, cap int) *Buffer {
	b := NewOwned(initialCap)
	if cap > 0 && cap < b.cap {
		b.cap = cap
	}
	return b
}

// NewObserver wraps raw in observer mode: no copy, no growth. All of
// raw is exposed as unread content, and there is no writable room
// past len(raw), so any non-empty Write fails with BuffNotEnough.
func NewObserver(raw []byte) *Buffer {
	return &Buffer{data: raw, w: len(raw), mode: ModeObserver}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// grow ensures at least n additional bytes of write capacity.
func (b *Buffer) grow(n int) error {
	required := b.w + n
	if required <= len(b.data) {
		return nil
	}
	if b.mode == ModeObserver {
		return errs.New(errs.BuffNotEnough)
	}

	newSize := nextPowerOfTwo(required)
	if newSize > b.cap {
		if required > b.cap {
			return errs.Newf(errs.BuffNotEnough, "buffer growth %d exceeds hard cap %d", required, b.cap)
		}
		newSize = b.cap
	}
	grown := make([]byte, newSize)
	copy(grown, b.data[:b.w])
	b.data = grown
	return nil
}

// Write appends p to the buffer, growing (owned mode) or failing with
// BuffNotEnough (observer mode) if there isn't room. A short write
// never happens silently: either all of p is written or an error is
// returned and nothing is appended.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := b.grow(len(p)); err != nil {
		return 0, err
	}
	copy(b.data[b.w:], p)
	b.w += len(p)
	return len(p), nil
}

// Read copies up to len(p) unread bytes into p.
func (b *Buffer) Read(p []byte) (int, error) {
	avail := b.w - b.r
	if avail == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := len(p)
	if n > avail {
		n = avail
	}
	copy(p, b.data[b.r:b.r+n])
	b.r += n
	return n, nil
}

// ReadAll reads exactly len(p) bytes or fails.
func (b *Buffer) ReadAll(p []byte) error {
	if b.w-b.r < len(p) {
		return errs.Newf(errs.BuffNotEnough, "need %d bytes, have %d", len(p), b.w-b.r)
	}
	copy(p, b.data[b.r:b.r+len(p)])
	b.r += len(p)
	return nil
}

// Borrow returns a zero-copy view of the next n unread bytes without
// advancing the read cursor. The codec must call Consume(n) (or
// another Consume-equivalent) once it has copied out what it needs.
func (b *Buffer) Borrow(n int) ([]byte, error) {
	if b.w-b.r < n {
		return nil, errs.Newf(errs.BuffNotEnough, "borrow %d bytes, have %d", n, b.w-b.r)
	}
	return b.data[b.r : b.r+n], nil
}

// Consume advances the read cursor by n bytes.
func (b *Buffer) Consume(n int) error {
	if b.w-b.r < n {
		return errs.New(errs.BuffNotEnough)
	}
	b.r += n
	return nil
}

// Len reports the number of unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Reset discards all buffered data, rewinding to an empty buffer.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Bytes returns the unread portion of the buffer. The returned slice
// aliases the buffer's backing array and is invalidated by the next
// Write.
func (b *Buffer) Bytes() []byte {
	return b.data[b.r:b.w]
}

var _ Transport = (*Buffer)(nil)

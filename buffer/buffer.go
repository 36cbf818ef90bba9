// Package buffer implements the framed byte buffer described in §4.2:
// a FIFO with random peek, save-for-cache, optional charset
// translation, and network-order pack/unpack helpers.
//
// Pack/unpack uses encoding/binary (stdlib) rather than a third-party
// codec: fixed-width network-order integers are exactly what that
// package is for, and no example repo in the pack reaches for
// anything else to do it (see DESIGN.md).
package buffer

import (
	"encoding/binary"
	"fmt"

	"github.com/lftpgo/xfer/xfer/xlog"
	"golang.org/x/text/encoding"
)

var log = xlog.New("buffer")

// Buffer is a FIFO byte buffer. Bytes are appended with Put and
// consumed with Get/Skip; UnSkip restores previously-skipped bytes
// that were retained because save-mode was enabled.
type Buffer struct {
	data []byte // active (not yet fully consumed) bytes
	head int    // index of the first unconsumed byte in data

	saving   bool
	saveMax  int
	saved    []byte // bytes that have been Skip()ped while saving was enabled
	eof      bool

	translate bool
	decoder   *encoding.Decoder
	encoder   *encoding.Encoder
}

// New builds an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// EnableSave turns on save-mode up to max bytes, per §4.2: "save-mode
// retains already-consumed bytes up to a configured maximum (used by
// the listing cache)". Save-mode can only be (re-)enabled after Empty,
// per the §8 invariant 9.
func (b *Buffer) EnableSave(max int) {
	b.saving = true
	b.saveMax = max
	b.saved = b.saved[:0]
}

// IsSaving reports whether save-mode is still active. It becomes false
// permanently (until Empty) once the save budget would be exceeded,
// per §8 invariant 9.
func (b *Buffer) IsSaving() bool { return b.saving }

// Saved returns the bytes retained while saving was enabled.
func (b *Buffer) Saved() []byte { return b.saved }

// SetTranslation installs a charset decoder/encoder pair used at
// Put/Get boundaries, per §4.2. A nil pair disables translation.
func (b *Buffer) SetTranslation(dec *encoding.Decoder, enc *encoding.Encoder) {
	b.translate = dec != nil || enc != nil
	b.decoder, b.encoder = dec, enc
}

// Put appends p to the buffer, applying the configured encoder when
// translation is enabled. On a translation failure the original bytes
// pass through unmodified with a logged warning, per §4.2.
func (b *Buffer) Put(p []byte) {
	out := p
	if b.translate && b.encoder != nil {
		converted, err := b.encoder.Bytes(p)
		if err != nil {
			log.With("err", err).Warn("charset encode failed, passing bytes through")
		} else {
			out = converted
		}
	}
	b.data = append(b.data, out...)
}

// PutEOF marks that no more bytes will ever be Put.
func (b *Buffer) PutEOF() { b.eof = true }

// EOF reports whether PutEOF was called and all buffered bytes have
// been consumed.
func (b *Buffer) EOF() bool { return b.eof && b.head >= len(b.data) }

// Size returns the number of unconsumed bytes.
func (b *Buffer) Size() int { return len(b.data) - b.head }

// Get returns a zero-copy view of the contiguous head of the buffer —
// never more bytes than are actually contiguous and unconsumed, per
// §4.2 invariant ("Get never returns more than contiguous head
// bytes"). Translation is applied to a private copy, since it may
// change length and must not corrupt the zero-copy contract for
// untranslated callers.
func (b *Buffer) Get() []byte {
	view := b.data[b.head:]
	if !b.translate || b.decoder == nil || len(view) == 0 {
		return view
	}
	converted, err := b.decoder.Bytes(view)
	if err != nil {
		log.With("err", err).Warn("charset decode failed, passing bytes through")
		return view
	}
	return converted
}

// Skip advances the consumption pointer by n bytes, clamped to Size(),
// per §4.2. When save-mode is active, skipped bytes are retained in
// Saved() until the save budget is exceeded.
func (b *Buffer) Skip(n int) {
	if n > b.Size() {
		n = b.Size()
	}
	if n <= 0 {
		return
	}
	if b.saving {
		if len(b.saved)+n > b.saveMax {
			b.saving = false
		} else {
			b.saved = append(b.saved, b.data[b.head:b.head+n]...)
		}
	}
	b.head += n
	b.compact()
}

// UnSkip moves the consumption pointer back by n bytes, restoring
// previously-consumed-but-retained bytes, clamped so it never goes
// negative.
func (b *Buffer) UnSkip(n int) {
	if n > b.head {
		n = b.head
	}
	b.head -= n
}

// compact drops fully-consumed leading bytes once UnSkip can no longer
// reach them economically; kept simple (a bound on slack) rather than
// compacting on every Skip, to avoid O(n^2) behavior on small skips.
func (b *Buffer) compact() {
	const slack = 64 * 1024
	if b.head > slack {
		b.data = append(b.data[:0], b.data[b.head:]...)
		b.head = 0
	}
}

// Empty discards all buffered and saved bytes and allows save-mode to
// be re-enabled, per §8 invariant 9.
func (b *Buffer) Empty() {
	b.data = b.data[:0]
	b.head = 0
	b.saved = b.saved[:0]
	b.saving = false
	b.eof = false
}

// Format appends a formatted string, mirroring §4.2's Format(fmt, …).
func (b *Buffer) Format(format string, args ...interface{}) {
	b.Put([]byte(fmt.Sprintf(format, args...)))
}

// --- pack/unpack: network-order (big-endian) fixed-width integers ---

func (b *Buffer) PutUint8(v uint8)   { b.Put([]byte{v}) }
func (b *Buffer) PutUint16(v uint16) { var buf [2]byte; binary.BigEndian.PutUint16(buf[:], v); b.Put(buf[:]) }
func (b *Buffer) PutUint32(v uint32) { var buf [4]byte; binary.BigEndian.PutUint32(buf[:], v); b.Put(buf[:]) }
func (b *Buffer) PutUint64(v uint64) { var buf [8]byte; binary.BigEndian.PutUint64(buf[:], v); b.Put(buf[:]) }

func (b *Buffer) PutInt8(v int8)   { b.PutUint8(uint8(v)) }
func (b *Buffer) PutInt16(v int16) { b.PutUint16(uint16(v)) }
func (b *Buffer) PutInt32(v int32) { b.PutUint32(uint32(v)) }
func (b *Buffer) PutInt64(v int64) { b.PutUint64(uint64(v)) }

// UnpackUint16 reads a big-endian uint16 at offset within the
// unconsumed head, without advancing the consumption pointer.
func UnpackUint16(p []byte, offset int) (uint16, error) {
	if offset+2 > len(p) {
		return 0, fmt.Errorf("buffer: short read unpacking uint16 at offset %d (len %d)", offset, len(p))
	}
	return binary.BigEndian.Uint16(p[offset:]), nil
}

// UnpackUint32 reads a big-endian uint32 at offset.
func UnpackUint32(p []byte, offset int) (uint32, error) {
	if offset+4 > len(p) {
		return 0, fmt.Errorf("buffer: short read unpacking uint32 at offset %d (len %d)", offset, len(p))
	}
	return binary.BigEndian.Uint32(p[offset:]), nil
}

// UnpackUint64 reads a big-endian uint64 at offset.
func UnpackUint64(p []byte, offset int) (uint64, error) {
	if offset+8 > len(p) {
		return 0, fmt.Errorf("buffer: short read unpacking uint64 at offset %d (len %d)", offset, len(p))
	}
	return binary.BigEndian.Uint64(p[offset:]), nil
}

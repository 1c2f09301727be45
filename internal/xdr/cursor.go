package xdr

import (
	"encoding/binary"
	"fmt"
)

// Decoder is a cursor-style XDR reader over an in-memory byte slice. It
// tracks its read position (buf_ix in the RFC 4506 sense) explicitly, so
// a caller can ask how many bytes were consumed (Pos) or are left
// (Remaining).
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for cursor-style decoding starting at position 0.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Pos returns the current read offset into the underlying buffer.
func (d *Decoder) Pos() int {
	return d.pos
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// take returns the next n bytes and advances the cursor, or an error if
// fewer than n bytes remain.
func (d *Decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("xdr: short buffer at offset %d: need %d, have %d", d.pos, n, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// Uint32 decodes a big-endian uint32 and advances the cursor.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Int32 decodes a big-endian int32 and advances the cursor.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

// Uint64 decodes a big-endian uint64 and advances the cursor.
func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int64 decodes a big-endian int64 and advances the cursor.
func (d *Decoder) Int64() (int64, error) {
	v, err := d.Uint64()
	return int64(v), err
}

// Bool decodes an XDR boolean (nonzero uint32 is true).
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint32()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Opaque decodes variable-length opaque data: a length prefix, the raw
// bytes, and zero-padding to the next 4-byte boundary.
func (d *Decoder) Opaque(maxLen uint32) ([]byte, error) {
	length, err := d.Uint32()
	if err != nil {
		return nil, fmt.Errorf("opaque length: %w", err)
	}
	if length > maxLen {
		return nil, fmt.Errorf("xdr: opaque length %d exceeds maximum %d", length, maxLen)
	}
	data, err := d.take(int(length))
	if err != nil {
		return nil, fmt.Errorf("opaque data: %w", err)
	}
	out := make([]byte, length)
	copy(out, data)
	if pad := paddingLen(length); pad > 0 {
		if _, err := d.take(pad); err != nil {
			return nil, fmt.Errorf("opaque padding: %w", err)
		}
	}
	return out, nil
}

// String decodes an XDR string using the same wire layout as Opaque.
func (d *Decoder) String(maxLen uint32) (string, error) {
	b, err := d.Opaque(maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func paddingLen(n uint32) int {
	return int((4 - (n % 4)) % 4)
}

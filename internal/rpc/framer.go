package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// lastFragmentBit is the high bit of the 32-bit fragment header (RFC 1831
// §10): when set, this fragment is the last one in the record.
const lastFragmentBit = uint32(1) << 31

// fragmentLengthMask masks off the high bit to yield the fragment's byte
// length.
const fragmentLengthMask = lastFragmentBit - 1

// MaxRecordSize bounds the size of a single RPC record this server will
// accept or emit, per the suggested cap in the design notes. A VXI-11
// device_write/device_read payload is never remotely this large; the cap
// exists only to bound memory against a hostile or confused peer.
const MaxRecordSize = 4 * 1024 * 1024

// FragmentHeader is the 4-byte big-endian record-marking header that
// precedes every RPC fragment on the wire.
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads and decodes one fragment header.
func ReadFragmentHeader(r io.Reader) (FragmentHeader, error) {
	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return FragmentHeader{}, fmt.Errorf("rpc: read fragment header: %w", err)
	}
	word := binary.BigEndian.Uint32(raw[:])
	return FragmentHeader{
		IsLast: word&lastFragmentBit != 0,
		Length: word & fragmentLengthMask,
	}, nil
}

// ReadRecord reads one complete RPC record from r.
//
// Non-goal: cross-fragment records. The first fragment header read MUST
// have its last-fragment bit set; any record spanning more than one
// fragment is rejected as a fatal transport error on this connection,
// matching the Non-goals in the design notes.
func ReadRecord(r io.Reader) ([]byte, error) {
	hdr, err := ReadFragmentHeader(r)
	if err != nil {
		return nil, err
	}
	if !hdr.IsLast {
		return nil, fmt.Errorf("rpc: multi-fragment records are not supported (got non-final fragment of length %d)", hdr.Length)
	}
	if hdr.Length > MaxRecordSize {
		return nil, fmt.Errorf("rpc: record length %d exceeds maximum %d", hdr.Length, MaxRecordSize)
	}
	data := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("rpc: read record body: %w", err)
	}
	return data, nil
}

// WriteRecord writes data as a single-fragment RPC record.
func WriteRecord(w io.Writer, data []byte) error {
	if len(data) > MaxRecordSize {
		return fmt.Errorf("rpc: record length %d exceeds maximum %d", len(data), MaxRecordSize)
	}
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], lastFragmentBit|uint32(len(data)))
	if _, err := w.Write(raw[:]); err != nil {
		return fmt.Errorf("rpc: write fragment header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("rpc: write record body: %w", err)
	}
	return nil
}

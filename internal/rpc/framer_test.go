package rpc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTripVariousSizes(t *testing.T) {
	sizes := []int{0, 1, 3, 4, 127, 1024, 65536}
	for _, n := range sizes {
		data := bytes.Repeat([]byte{0xAB}, n)
		buf := new(bytes.Buffer)
		require.NoError(t, WriteRecord(buf, data))
		assert.Equal(t, 4+n, buf.Len())

		got, err := ReadRecord(buf)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestReadRecordRejectsNonFinalFragment(t *testing.T) {
	// High bit clear: not the last fragment.
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 0x00, 0x05, 1, 2, 3, 4, 5})
	_, err := ReadRecord(buf)
	assert.Error(t, err)
}

func TestReadRecordRejectsOversizedRecord(t *testing.T) {
	var hdr [4]byte
	word := lastFragmentBit | uint32(MaxRecordSize+1)
	hdr[0] = byte(word >> 24)
	hdr[1] = byte(word >> 16)
	hdr[2] = byte(word >> 8)
	hdr[3] = byte(word)
	buf := bytes.NewBuffer(hdr[:])
	_, err := ReadRecord(buf)
	assert.Error(t, err)
}

func TestWriteRecordRejectsOversizedRecord(t *testing.T) {
	buf := new(bytes.Buffer)
	err := WriteRecord(buf, make([]byte, MaxRecordSize+1))
	assert.Error(t, err)
}

package rombuf_test

import (
	"errors"
	"testing"

	"github.com/retroenv/m68kunlink/internal/rombuf"
	"github.com/retroenv/retrogolib/assert"
)

func TestU16be(t *testing.T) {
	buf := rombuf.New([]byte{0x01, 0x02, 0x03, 0x04})
	v, err := buf.U16be(0)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)

	v, err = buf.U16be(2)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x0304), v)
}

func TestU32be(t *testing.T) {
	buf := rombuf.New([]byte{0x00, 0x00, 0x01, 0xA0})
	v, err := buf.U32be(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x1A0), v)
}

func TestI32beNegative(t *testing.T) {
	buf := rombuf.New([]byte{0xFF, 0xFF, 0xFF, 0xFE})
	v, err := buf.I32be(0)
	assert.NoError(t, err)
	assert.Equal(t, int32(-2), v)
}

func TestOutOfBounds(t *testing.T) {
	buf := rombuf.New([]byte{0x01, 0x02})
	_, err := buf.U16be(1)
	assert.Error(t, err)

	_, err = buf.U32be(0)
	assert.Error(t, err)

	var badOffset *rombuf.BadOffsetError
	assert.True(t, errors.As(err, &badOffset))
}

func TestSlice(t *testing.T) {
	buf := rombuf.New([]byte{0x01, 0x02, 0x03, 0x04})
	s, err := buf.Slice(1, 2)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03}, s)

	_, err = buf.Slice(3, 5)
	assert.Error(t, err)
}

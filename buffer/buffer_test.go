package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetSkip(t *testing.T) {
	b := New()
	b.Put([]byte("hello world"))
	assert.Equal(t, 11, b.Size())
	assert.Equal(t, "hello world", string(b.Get()))

	b.Skip(6)
	assert.Equal(t, 5, b.Size())
	assert.Equal(t, "world", string(b.Get()))
}

func TestSkipClampsToSize(t *testing.T) {
	b := New()
	b.Put([]byte("abc"))
	b.Skip(100)
	assert.Equal(t, 0, b.Size())
}

func TestSkipIgnoresNonPositive(t *testing.T) {
	b := New()
	b.Put([]byte("abc"))
	b.Skip(-5)
	assert.Equal(t, 3, b.Size())
}

func TestUnSkipRestoresConsumedBytes(t *testing.T) {
	b := New()
	b.Put([]byte("abcdef"))
	b.Skip(4)
	assert.Equal(t, "ef", string(b.Get()))
	b.UnSkip(2)
	assert.Equal(t, "cdef", string(b.Get()))
}

func TestUnSkipClampsAtZero(t *testing.T) {
	b := New()
	b.Put([]byte("abc"))
	b.UnSkip(100)
	assert.Equal(t, "abc", string(b.Get()))
}

func TestEOF(t *testing.T) {
	b := New()
	b.Put([]byte("ab"))
	assert.False(t, b.EOF())
	b.PutEOF()
	assert.False(t, b.EOF()) // bytes still unconsumed
	b.Skip(2)
	assert.True(t, b.EOF())
}

func TestEmptyResetsState(t *testing.T) {
	b := New()
	b.EnableSave(100)
	b.Put([]byte("abc"))
	b.Skip(3)
	b.PutEOF()
	require.Equal(t, "abc", string(b.Saved()))

	b.Empty()
	assert.Equal(t, 0, b.Size())
	assert.False(t, b.EOF())
	assert.False(t, b.IsSaving())
	assert.Empty(t, b.Saved())
}

func TestSaveModeRetainsSkippedBytesUntilBudgetExceeded(t *testing.T) {
	b := New()
	b.EnableSave(5)
	b.Put([]byte("abcdefgh"))

	b.Skip(3)
	assert.True(t, b.IsSaving())
	assert.Equal(t, "abc", string(b.Saved()))

	b.Skip(3) // 3+3=6 > budget of 5, save-mode turns off
	assert.False(t, b.IsSaving())
	assert.Equal(t, "abc", string(b.Saved())) // the over-budget skip was not appended
}

func TestFormatAppendsFormattedString(t *testing.T) {
	b := New()
	b.Format("%s=%d", "count", 42)
	assert.Equal(t, "count=42", string(b.Get()))
}

func TestPackUint16(t *testing.T) {
	b := New()
	b.PutUint16(0x1234)
	got, err := UnpackUint16(b.Get(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), got)
}

func TestPackUint32(t *testing.T) {
	b := New()
	b.PutUint32(0xDEADBEEF)
	got, err := UnpackUint32(b.Get(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), got)
}

func TestPackUint64(t *testing.T) {
	b := New()
	b.PutUint64(0x0102030405060708)
	got, err := UnpackUint64(b.Get(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), got)
}

func TestUnpackShortReadErrors(t *testing.T) {
	_, err := UnpackUint16([]byte{0x01}, 0)
	assert.Error(t, err)

	_, err = UnpackUint32([]byte{0x01, 0x02}, 0)
	assert.Error(t, err)

	_, err = UnpackUint64([]byte{0x01, 0x02}, 0)
	assert.Error(t, err)
}

func TestPutInt8Int16Int32Int64RoundTrip(t *testing.T) {
	b := New()
	b.PutInt8(-1)
	b.PutInt16(-2)
	b.PutInt32(-3)
	b.PutInt64(-4)
	data := b.Get()
	require.Len(t, data, 1+2+4+8)

	assert.Equal(t, byte(0xFF), data[0])
	u16, err := UnpackUint16(data, 1)
	require.NoError(t, err)
	assert.Equal(t, int16(-2), int16(u16))
	u32, err := UnpackUint32(data, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), int32(u32))
	u64, err := UnpackUint64(data, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), int64(u64))
}

package ringbuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendWithinCapacity(t *testing.T) {
	b := New(16)
	b.Append([]byte("hello"))
	assert.Equal(t, "hello", b.String())
	assert.False(t, b.Truncated())
	assert.Equal(t, 5, b.Len())
}

func TestBufferEvictsOldestOnOverflow(t *testing.T) {
	b := New(8)
	b.Append([]byte("abcdefgh"))
	b.Append([]byte("ij"))
	assert.Equal(t, "cdefghij", b.String())
	assert.True(t, b.Truncated())
}

func TestBufferWriteNeverErrors(t *testing.T) {
	b := New(4)
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "cdef", b.String())
}

func TestBufferReadFromDrainsUntilEOF(t *testing.T) {
	b := New(1024)
	n, err := b.ReadFrom(strings.NewReader("the quick brown fox"))
	require.NoError(t, err)
	assert.Equal(t, int64(19), n)
	assert.Equal(t, "the quick brown fox", b.String())
}

func TestBufferBytesReturnsIndependentCopy(t *testing.T) {
	b := New(16)
	b.Append([]byte("snapshot"))
	out := b.Bytes()
	out[0] = 'X'
	assert.Equal(t, "snapshot", b.String())
}

func TestDefaultCapacityAppliedForNonPositiveInput(t *testing.T) {
	b := New(0)
	b.Append([]byte("x"))
	assert.False(t, b.Truncated())
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedLenIntRoundTrip(t *testing.T) {
	for _, width := range []int{Int1, Int2, Int3, Int4, Int6, Int8} {
		buf := make([]byte, width)
		pos := 0
		WriteFixedLenInt(buf, width, 0x1, &pos)
		pos = 0
		got := ReadFixedLenInt(buf, width, &pos)
		assert.Equal(t, uint64(0x1), got)
		assert.Equal(t, width, pos)
	}
}

// TestLenencRoundTrip pins spec.md §8 testable property 3: for every n in
// the listed seeds, read(write(n)) == n and the width is one of {1,3,4,9}.
func TestLenencRoundTrip(t *testing.T) {
	seeds := []uint64{0, 250, 251, 65535, 65536, 16777215, 16777216, 1<<63 - 1}
	for _, n := range seeds {
		width := LenencWidth(n)
		require.Contains(t, []int{1, 3, 4, 9}, width)

		buf := make([]byte, width)
		pos := 0
		WriteLenEncInt(buf, n, &pos)
		require.Equal(t, width, pos)

		pos = 0
		got, isNull := ReadLenEncInt(buf, &pos)
		assert.False(t, isNull)
		assert.Equal(t, n, got)
		assert.Equal(t, width, pos)
	}
}

func TestLenEncNullSentinel(t *testing.T) {
	buf := make([]byte, 1)
	pos := 0
	WriteLenEncNull(buf, &pos)

	pos = 0
	n, isNull := ReadLenEncInt(buf, &pos)
	assert.True(t, isNull)
	assert.Equal(t, uint64(0), n)
}

func TestStringRoundTrip(t *testing.T) {
	t.Run("null-terminated", func(t *testing.T) {
		buf := make([]byte, 16)
		pos := 0
		WriteString(buf, "root", NullStr, &pos, 0)
		pos = 0
		got := ReadString(buf, NullStr, &pos, 0)
		assert.Equal(t, "root", string(got))
	})

	t.Run("length-encoded", func(t *testing.T) {
		buf := make([]byte, 32)
		pos := 0
		WriteString(buf, "native_password", LenencStr, &pos, 0)
		pos = 0
		got := ReadString(buf, LenencStr, &pos, 0)
		assert.Equal(t, "native_password", string(got))
	})

	t.Run("fixed", func(t *testing.T) {
		buf := make([]byte, 8)
		pos := 0
		WriteString(buf, "ab", FixedStr, &pos, 8)
		pos = 0
		got := ReadString(buf, FixedStr, &pos, 8)
		assert.Equal(t, 8, len(got))
		assert.Equal(t, byte('a'), got[0])
	})
}

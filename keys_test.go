package carton

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeyRoundTrip(t *testing.T) {
	for _, key := range []uint64{0, 1, 255, 1 << 40, ^uint64(0)} {
		assert.Equal(t, key, decodeRecordKey(encodeRecordKey(key)))
	}
}

func TestRecordKeyOrder(t *testing.T) {
	// Byte order must match numeric order so cursor walks follow
	// insertion order.
	assert.Equal(t, -1, bytes.Compare(encodeRecordKey(1), encodeRecordKey(2)))
	assert.Equal(t, -1, bytes.Compare(encodeRecordKey(255), encodeRecordKey(256)))
}

func TestIndexValueDistinct(t *testing.T) {
	values := []any{nil, false, true, int64(0), int64(-1), int64(1), 1.5, "a", "b", "", []byte{1}}
	seen := make(map[string]any)
	for _, v := range values {
		enc, err := encodeIndexValue(v)
		require.NoError(t, err)
		prev, dup := seen[string(enc)]
		require.False(t, dup, "%v and %v encode identically", prev, v)
		seen[string(enc)] = v
	}
}

func TestIndexValueNormalizesNumericWidths(t *testing.T) {
	a, err := encodeIndexValue(int(7))
	require.NoError(t, err)
	b, err := encodeIndexValue(int64(7))
	require.NoError(t, err)
	c, err := encodeIndexValue(uint32(7))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestIndexEntryPrefixUnambiguous(t *testing.T) {
	// "ab" must not be a prefix of the entry for "abc"; the length
	// prefix keeps equality scans exact for variable-length values.
	ab, err := encodeIndexValue("ab")
	require.NoError(t, err)
	abc, err := encodeIndexEntry("abc", 1)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(abc, ab))
}

func TestIndexValueRejectsCompositeValues(t *testing.T) {
	_, err := encodeIndexValue(map[string]any{"x": 1})
	assert.Error(t, err)
}

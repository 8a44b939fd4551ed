package chunk

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"midirpc/internal/errs"
)

func payloadOf(n int) []byte {
	bs := make([]byte, n)
	for i := range bs {
		bs[i] = byte(i % 251)
	}
	return bs
}

func TestSplitCounts(t *testing.T) {
	const m = 16
	testCases := []struct {
		name      string
		length    int
		wantTotal int
	}{
		{name: "empty", length: 0, wantTotal: 1},
		{name: "single byte", length: 1, wantTotal: 1},
		{name: "exactly one chunk", length: m, wantTotal: 1},
		{name: "one byte over", length: m + 1, wantTotal: 2},
		{name: "many chunks with remainder", length: 10*m + 3, wantTotal: 11},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			payload := payloadOf(tc.length)
			chunks, err := Split(42, payload, m)
			require.NoError(t, err)
			require.Len(t, chunks, tc.wantTotal)
			for i, c := range chunks {
				assert.Equal(t, uint32(42), c.MessageID)
				assert.Equal(t, uint16(i), c.Seq)
				assert.Equal(t, uint16(tc.wantTotal), c.Total)
				assert.Equal(t, i == tc.wantTotal-1, c.Final())
			}
			// Concatenation in index order must reproduce the payload.
			var joined []byte
			for _, c := range chunks {
				joined = append(joined, c.Payload...)
			}
			assert.True(t, bytes.Equal(payload, joined))
		})
	}
}

func TestSplitErrors(t *testing.T) {
	_, err := Split(1, payloadOf(10), 0)
	assert.Error(t, err)

	_, err = Split(1, payloadOf(MaxTotal+1), 1)
	assert.ErrorIs(t, err, errs.ErrTooManyChunks)
}

func TestReassembleInOrder(t *testing.T) {
	const m = 16
	for _, length := range []int{0, 1, m, m + 1, 10*m + 3} {
		payload := payloadOf(length)
		chunks, err := Split(7, payload, m)
		require.NoError(t, err)
		a := NewAssembler(0, 0)
		for i, c := range chunks {
			got, done, err := a.Add(c)
			require.NoError(t, err)
			if i < len(chunks)-1 {
				require.False(t, done)
				continue
			}
			require.True(t, done)
			assert.Equal(t, payload, got)
		}
		assert.Equal(t, 0, a.Pending())
	}
}

func TestReassembleShuffled(t *testing.T) {
	const m = 16
	payload := payloadOf(10*m + 3)
	chunks, err := Split(9, payload, m)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		a := NewAssembler(0, 0)
		var got []byte
		done := false
		for _, i := range rng.Perm(len(chunks)) {
			var err error
			got, done, err = a.Add(chunks[i])
			require.NoError(t, err)
		}
		require.True(t, done)
		assert.Equal(t, payload, got)
	}
}

func TestDuplicateChunksAreIdempotent(t *testing.T) {
	const m = 8
	payload := payloadOf(3 * m)
	chunks, err := Split(11, payload, m)
	require.NoError(t, err)

	a := NewAssembler(0, 0)
	// Deliver the first chunk three times before the rest.
	for i := 0; i < 3; i++ {
		_, done, err := a.Add(chunks[0])
		require.NoError(t, err)
		require.False(t, done)
	}
	_, done, err := a.Add(chunks[1])
	require.NoError(t, err)
	require.False(t, done)
	_, done, err = a.Add(chunks[1])
	require.NoError(t, err)
	require.False(t, done)
	got, done, err := a.Add(chunks[2])
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, payload, got)
}

func TestSweepEvictsStaleBuffers(t *testing.T) {
	a := NewAssembler(0, time.Minute)
	chunks, err := Split(7, payloadOf(30), 10)
	require.NoError(t, err)

	// Chunks 0 and 2 arrive, chunk 1 never does.
	_, _, err = a.Add(chunks[0])
	require.NoError(t, err)
	_, _, err = a.Add(chunks[2])
	require.NoError(t, err)
	require.Equal(t, 1, a.Pending())

	assert.Equal(t, 0, a.Sweep(time.Now()))
	assert.Equal(t, 1, a.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, a.Pending())

	// A fresh chunk 0 for the same id starts a new, empty buffer rather
	// than completing the evicted one.
	_, done, err := a.Add(chunks[0])
	require.NoError(t, err)
	require.False(t, done)
	_, done, err = a.Add(chunks[1])
	require.NoError(t, err)
	require.False(t, done)
	got, done, err := a.Add(chunks[2])
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, payloadOf(30), got)
}

func TestStaleBufferRestartsOnAdd(t *testing.T) {
	a := NewAssembler(0, 10*time.Millisecond)
	chunks, err := Split(5, payloadOf(20), 10)
	require.NoError(t, err)

	_, done, err := a.Add(chunks[0])
	require.NoError(t, err)
	require.False(t, done)

	time.Sleep(20 * time.Millisecond)

	// The old buffer expired, so this duplicate of chunk 0 opens a fresh
	// buffer instead of completing nothing.
	_, done, err = a.Add(chunks[0])
	require.NoError(t, err)
	require.False(t, done)
	got, done, err := a.Add(chunks[1])
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, payloadOf(20), got)
}

func TestBufferCapEvictsOldest(t *testing.T) {
	a := NewAssembler(2, time.Minute)

	for id := uint32(1); id <= 3; id++ {
		chunks, err := Split(id, payloadOf(20), 10)
		require.NoError(t, err)
		_, done, err := a.Add(chunks[0])
		require.NoError(t, err)
		require.False(t, done)
		// Keep arrival times strictly ordered so "oldest" is unambiguous.
		time.Sleep(time.Millisecond)
	}
	// Admitting id 3 evicted id 1, the oldest.
	assert.Equal(t, 2, a.Pending())

	// Completing id 1 now requires both chunks again.
	chunks, err := Split(1, payloadOf(20), 10)
	require.NoError(t, err)
	_, done, err := a.Add(chunks[1])
	require.NoError(t, err)
	require.False(t, done)
	got, done, err := a.Add(chunks[0])
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, payloadOf(20), got)
}

func TestChunkGeometryErrors(t *testing.T) {
	a := NewAssembler(0, 0)

	_, _, err := a.Add(Chunk{MessageID: 1, Seq: 0, Total: 0})
	assert.ErrorIs(t, err, errs.ErrMalformedFrame)

	_, _, err = a.Add(Chunk{MessageID: 1, Seq: 2, Total: 2})
	assert.ErrorIs(t, err, errs.ErrMalformedFrame)

	_, _, err = a.Add(Chunk{MessageID: 1, Seq: 0, Total: 3})
	require.NoError(t, err)
	_, _, err = a.Add(Chunk{MessageID: 1, Seq: 1, Total: 4})
	assert.ErrorIs(t, err, errs.ErrMalformedFrame)
	// The original buffer survives a mismatched chunk.
	assert.Equal(t, 1, a.Pending())
}

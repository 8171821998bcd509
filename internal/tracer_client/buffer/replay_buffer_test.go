package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayBufferImpl_Append(t *testing.T) {
	t.Run("should keep everything up to one past the soft limit", func(t *testing.T) {
		rb := NewReplayBufferImpl()
		for i := 0; i <= SoftLimit; i++ {
			assert.Equal(t, 0, rb.Append(Entry{TraceNumber: uint64(i)}))
		}
		assert.Equal(t, SoftLimit+1, rb.Len())
	})

	t.Run("should evict the oldest half in a single step", func(t *testing.T) {
		rb := NewReplayBufferImpl()
		for i := 0; i <= SoftLimit; i++ {
			rb.Append(Entry{TraceNumber: uint64(i)})
		}
		evicted := rb.Append(Entry{TraceNumber: SoftLimit + 1})
		assert.Equal(t, EvictCount, evicted)
		assert.Equal(t, SoftLimit+1-EvictCount+1, rb.Len())

		all := rb.All()
		assert.Equal(t, uint64(EvictCount), all[0].TraceNumber)
		assert.Equal(t, uint64(SoftLimit+1), all[len(all)-1].TraceNumber)
	})

	t.Run("should not evict again until the limit is exceeded again", func(t *testing.T) {
		rb := NewReplayBufferImpl()
		evictions := 0
		for i := 0; i < 3*SoftLimit; i++ {
			if rb.Append(Entry{TraceNumber: uint64(i)}) > 0 {
				evictions++
			}
		}
		assert.Equal(t, 4, evictions)
		assert.LessOrEqual(t, rb.Len(), SoftLimit+1)
	})
}

func TestReplayBufferImpl_Since(t *testing.T) {
	t.Run("should return entries strictly after the cursor in ascending order", func(t *testing.T) {
		rb := NewReplayBufferImpl()
		for i := 0; i < 10; i++ {
			rb.Append(Entry{TraceNumber: uint64(i), Data: []byte{byte(i)}})
		}
		since := rb.Since(6)
		assert.Equal(t, []Entry{
			{TraceNumber: 7, Data: []byte{7}},
			{TraceNumber: 8, Data: []byte{8}},
			{TraceNumber: 9, Data: []byte{9}},
		}, since)
	})

	t.Run("should return nothing when the cursor is at the newest entry", func(t *testing.T) {
		rb := NewReplayBufferImpl()
		rb.Append(Entry{TraceNumber: 0})
		assert.Empty(t, rb.Since(0))
	})

	t.Run("should return everything still buffered when the cursor predates the buffer", func(t *testing.T) {
		rb := NewReplayBufferImpl()
		for i := 0; i < SoftLimit+2; i++ {
			rb.Append(Entry{TraceNumber: uint64(i)})
		}
		since := rb.Since(3)
		assert.Equal(t, rb.Len(), len(since))
		assert.Equal(t, uint64(EvictCount), since[0].TraceNumber)
	})
}

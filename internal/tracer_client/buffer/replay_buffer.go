package buffer

import "sync"

const (
	SoftLimit  = 2048
	EvictCount = 1024
)

type Entry struct {
	TraceNumber uint64
	Data        []byte
}

// ReplayBuffer keeps the serialized events a client may have to resend after a reconnect. Once
// it holds more than SoftLimit entries the oldest EvictCount are dropped in a single step.
type ReplayBuffer interface {
	Append(entry Entry) (evicted int)
	// Since returns the entries with a trace number strictly greater than after, oldest first.
	Since(after uint64) []Entry
	All() []Entry
	Len() int
}

type ReplayBufferImpl struct {
	entries []Entry
	mu      sync.Mutex
}

func NewReplayBufferImpl() *ReplayBufferImpl {
	return &ReplayBufferImpl{
		entries: make([]Entry, 0, SoftLimit+1),
	}
}

func (rb *ReplayBufferImpl) Append(entry Entry) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	evicted := 0
	if len(rb.entries) > SoftLimit {
		evicted = EvictCount
		remaining := copy(rb.entries, rb.entries[EvictCount:])
		for i := remaining; i < len(rb.entries); i++ {
			rb.entries[i] = Entry{}
		}
		rb.entries = rb.entries[:remaining]
	}
	rb.entries = append(rb.entries, entry)
	return evicted
}

func (rb *ReplayBufferImpl) Since(after uint64) []Entry {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for i, entry := range rb.entries {
		if entry.TraceNumber > after {
			return cloneEntries(rb.entries[i:])
		}
	}
	return []Entry{}
}

func (rb *ReplayBufferImpl) All() []Entry {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return cloneEntries(rb.entries)
}

func (rb *ReplayBufferImpl) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.entries)
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

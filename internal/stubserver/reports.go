package stubserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type report struct {
	ID        string
	Owner     string
	Filename  string
	Analysis  analysis
	Timestamp time.Time
	seq       uint64
}

// reportStore keeps per-user reports in memory.
type reportStore struct {
	mu   sync.RWMutex
	byID map[string]*report
	seq  uint64
}

func newReportStore() *reportStore {
	return &reportStore{byID: make(map[string]*report)}
}

func (s *reportStore) add(owner, filename string, a analysis, ts time.Time) *report {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	r := &report{
		ID:        uuid.NewString(),
		Owner:     owner,
		Filename:  filename,
		Analysis:  a,
		Timestamp: ts,
		seq:       s.seq,
	}
	s.byID[r.ID] = r
	return r
}

func (s *reportStore) get(id string) (*report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

func (s *reportStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

// list returns owner's reports, newest first.
func (s *reportStore) list(owner string) []*report {
	s.mu.RLock()
	out := make([]*report, 0)
	for _, r := range s.byID {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

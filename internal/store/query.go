package store

import (
	"reflect"
	"sort"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
)

// QueryStates scans the current records and returns those matching every
// non-zero criterion, sorted by owner.
func (s *Store) QueryStates(q domain.StateQuery) []*domain.StateRecord {
	owners := make(map[string]bool, len(q.OwnerIDs))
	for _, id := range q.OwnerIDs {
		owners[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.StateRecord
	for id, rec := range s.states {
		if q.State != "" && rec.State != q.State {
			continue
		}
		if len(owners) > 0 && !owners[id] {
			continue
		}
		if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
			continue
		}
		if !contextMatches(rec.Context, q.Context) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

func contextMatches(have, want map[string]interface{}) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}

// CleanupHistory drops history entries older than retentionDays and returns
// how many were removed. Owners locked by a transaction are skipped.
func (s *Store) CleanupHistory(retentionDays int) int {
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	const holder = "history-cleanup"

	s.mu.RLock()
	owners := make([]string, 0, len(s.history))
	for id := range s.history {
		owners = append(owners, id)
	}
	s.mu.RUnlock()
	sort.Strings(owners)

	removed := 0
	for _, owner := range owners {
		if !s.tryLock(owner, holder) {
			continue
		}

		s.mu.Lock()
		h := s.history[owner]
		kept := make([]*domain.StateRecord, 0, len(h))
		for _, rec := range h {
			if rec.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(s.history, owner)
		} else {
			s.history[owner] = kept
		}
		s.mu.Unlock()

		s.release([]string{owner}, holder)
	}
	return removed
}

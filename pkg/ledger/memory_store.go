package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for dev and tests. It mirrors the
// Postgres store's semantics, including cursor pagination.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[string]*Entry
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger. retention <= 0 falls
// back to DefaultRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		rows:      make(map[string]*Entry),
		retention: retention,
		now:       time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func rowKey(executionName, taskID string) string {
	return executionName + "\x00" + taskID
}

func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	clone := *entry
	if clone.PipelineIndexKey == "" {
		clone.PipelineIndexKey = IndexKey(clone.PipelineID, clone.StateMachineName, clone.TaskID)
	}
	clone.ExpirationTime = now.Add(s.retention).Unix()

	key := rowKey(clone.ExecutionName, clone.TaskID)
	if existing, ok := s.rows[key]; ok && existing.StartTime != "" {
		clone.StartTime = existing.StartTime
	} else if clone.StartTime == "" {
		clone.StartTime = now.UTC().Format(TimeLayout)
	}
	s.rows[key] = &clone
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, executionName, taskID string, status Status, endTime, data string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowKey(executionName, taskID)]
	if !ok {
		return ErrNotFound
	}
	row.Status = status
	row.EndTime = endTime
	if data != "" {
		row.Data = data
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, executionName, taskID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowKey(executionName, taskID)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (s *MemoryStore) ListChildren(ctx context.Context, executionName, parentTaskID string) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var children []*Entry
	for _, row := range s.rows {
		if row.ExecutionName == executionName && row.ParentTaskID == parentTaskID {
			clone := *row
			children = append(children, &clone)
		}
	}
	return children, nil
}

func (s *MemoryStore) QueryByPipelineTimeRange(ctx context.Context, q TimeRangeQuery) (*TimeRangePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Entry
	for _, row := range s.rows {
		if row.PipelineIndexKey != q.PipelineIndexKey {
			continue
		}
		if q.StartTime != "" && row.StartTime < q.StartTime {
			continue
		}
		if q.EndTime != "" && row.StartTime > q.EndTime {
			continue
		}
		if q.Status != "" && row.Status != q.Status {
			continue
		}
		clone := *row
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime != matched[j].StartTime {
			return matched[i].StartTime > matched[j].StartTime
		}
		return matched[i].TaskID > matched[j].TaskID
	})

	if q.Cursor != "" {
		curStart, curTask, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		idx := 0
		for idx < len(matched) && !afterCursor(matched[idx].StartTime, matched[idx].TaskID, curStart, curTask) {
			idx++
		}
		matched = matched[idx:]
	}

	page := &TimeRangePage{}
	if q.Limit > 0 && len(matched) > q.Limit {
		page.Items = matched[:q.Limit]
		last := page.Items[len(page.Items)-1]
		page.NextCursor = encodeCursor(last.StartTime, last.TaskID)
	} else {
		page.Items = matched
	}
	return page, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	cutoff := now.Unix()
	for key, row := range s.rows {
		if row.ExpirationTime > 0 && row.ExpirationTime <= cutoff {
			delete(s.rows, key)
			purged++
		}
	}
	return purged, nil
}

var _ Store = (*MemoryStore)(nil)

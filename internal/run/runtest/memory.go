// Package runtest provides an in-memory run.Repository for tests.
//
// Each method is atomic on its own, but nothing serialises a read-then-write
// sequence across calls.  Delay widens the gap inside RecordRead so tests
// can show that the dispatcher lock, not the repository, prevents duplicate
// reads.
package runtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yanizio/piliskor/internal/run"
)

// Memory implements run.Repository.
type Memory struct {
	Delay time.Duration

	mu     sync.Mutex
	runs   map[int64]run.Run
	course map[int64][]run.Checkpoint
	reads  []run.Read
	nextID int64
}

var _ run.Repository = (*Memory)(nil)

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{runs: map[int64]run.Run{}, course: map[int64][]run.Checkpoint{}}
}

// AddRun stores r, defaulting its state to pending.
func (m *Memory) AddRun(r run.Run) {
	if r.State == "" {
		r.State = run.StatePending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
}

// AddCheckpoints appends checkpoints to their courses.
func (m *Memory) AddCheckpoints(cps ...run.Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cps {
		m.course[c.CourseID] = append(m.course[c.CourseID], c)
	}
	for id := range m.course {
		sort.Slice(m.course[id], func(i, j int) bool { return m.course[id][i].Sequence < m.course[id][j].Sequence })
	}
}

// Reads returns a copy of every stored read.
func (m *Memory) Reads() []run.Read {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]run.Read(nil), m.reads...)
}

func (m *Memory) RunByID(_ context.Context, id int64) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) CheckpointsByCourse(_ context.Context, courseID int64) ([]run.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]run.Checkpoint{}, m.course[courseID]...), nil
}

func (m *Memory) CheckpointByCode(_ context.Context, courseID int64, code string) (*run.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.course[courseID] {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, run.ErrNotFound
}

func (m *Memory) ReadsByRun(_ context.Context, runID int64) ([]run.Read, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []run.Read{}
	for _, rd := range m.reads {
		if rd.RunID == runID {
			out = append(out, rd)
		}
	}
	return out, nil
}

func (m *Memory) LastRead(ctx context.Context, runID int64) (*run.Read, error) {
	all, _ := m.ReadsByRun(ctx, runID)
	if len(all) == 0 {
		return nil, run.ErrNotFound
	}
	last := all[len(all)-1]
	return &last, nil
}

func (m *Memory) RecordRead(ctx context.Context, rd *run.Read, next run.State) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rd.CreatedAt.IsZero() {
		rd.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rd.ID = m.nextID
	m.reads = append(m.reads, *rd)

	r := m.runs[rd.RunID]
	switch {
	case next == run.StateRunning && r.State == run.StatePending:
		r.State = run.StateRunning
		r.StartedAt = &rd.CreatedAt
	case next == run.StateFinished && r.State != run.StateFinished:
		if r.StartedAt == nil {
			r.StartedAt = &rd.CreatedAt
		}
		r.State = run.StateFinished
		r.FinishedAt = &rd.CreatedAt
	}
	m.runs[rd.RunID] = r
	return nil
}

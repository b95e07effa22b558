package store

import (
	"context"
	"sort"
	"sync"

	"github.com/okibo/skein/pkg/schema"
)

// MemStore keeps executions in process memory. It backs tests and the
// DB-less default configuration; records vanish on restart.
type MemStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	nodes      map[string]map[string]*NodeRecord // executionID -> nodeID -> record
}

func NewMemStore() *MemStore {
	return &MemStore{
		executions: make(map[string]*Execution),
		nodes:      make(map[string]map[string]*NodeRecord),
	}
}

func (s *MemStore) CreateExecution(_ context.Context, ex *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[ex.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already exists", ex.ID)
	}
	cp := *ex
	s.executions[ex.ID] = &cp
	return nil
}

func (s *MemStore) FinishExecution(_ context.Context, id string, update ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	ex.Status = update.Status
	ex.Outputs = update.Outputs
	ex.Error = update.Error
	ex.CompletedAt = update.CompletedAt
	return nil
}

func (s *MemStore) UpsertNodeRecord(_ context.Context, rec *NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.nodes[rec.ExecutionID]
	if !ok {
		byNode = make(map[string]*NodeRecord)
		s.nodes[rec.ExecutionID] = byNode
	}
	cp := *rec
	byNode[rec.NodeID] = &cp
	return nil
}

func (s *MemStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	cp := *ex
	return &cp, nil
}

func (s *MemStore) ListExecutions(_ context.Context, workflowID string, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Execution
	for _, ex := range s.executions {
		if workflowID != "" && ex.WorkflowID != workflowID {
			continue
		}
		cp := *ex
		out = append(out, &cp)
	}
	// newest first, matching the libsql ORDER BY
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListNodeRecords(_ context.Context, executionID string) ([]*NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byNode := s.nodes[executionID]
	out := make([]*NodeRecord, 0, len(byNode))
	for _, rec := range byNode {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (s *MemStore) Close() error { return nil }

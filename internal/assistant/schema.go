package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/classsight/classsight/internal/store"
)

// SchemaSource introspects the allow-listed tables. Satisfied by *store.Store.
type SchemaSource interface {
	IntrospectSchema(ctx context.Context, allowedTables []string, maxSampleRows int) ([]store.TableSchema, error)
}

// Snapshotter caches a whole-value schema snapshot. Reads are lock-cheap; a
// refresh replaces the snapshot atomically so concurrent readers never observe
// a partially built one.
type Snapshotter struct {
	src        SchemaSource
	tables     []string
	sampleRows int

	mu   sync.RWMutex
	snap *SchemaSnapshot
}

func NewSnapshotter(src SchemaSource, tables []string, sampleRows int) *Snapshotter {
	if sampleRows <= 0 {
		sampleRows = 10
	}
	return &Snapshotter{src: src, tables: tables, sampleRows: sampleRows}
}

// Snapshot returns the cached snapshot, or captures a fresh one on a miss or
// when forceRefresh is set. Introspection failures leave the cache untouched.
func (s *Snapshotter) Snapshot(ctx context.Context, forceRefresh bool) (*SchemaSnapshot, error) {
	if !forceRefresh {
		s.mu.RLock()
		snap := s.snap
		s.mu.RUnlock()
		if snap != nil {
			return snap, nil
		}
	}

	tables, err := s.src.IntrospectSchema(ctx, s.tables, s.sampleRows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaIntrospection, err)
	}
	snap := &SchemaSnapshot{Tables: tables, CapturedAt: time.Now()}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap, nil
}

// Invalidate drops the cached snapshot; the next Snapshot call re-introspects.
func (s *Snapshotter) Invalidate() {
	s.mu.Lock()
	s.snap = nil
	s.mu.Unlock()
}

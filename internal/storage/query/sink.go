package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"

	"otapetl/internal/storage"
)

const kind = "query"

func init() {
	storage.Register(kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		s, err := Open(ctx, cfg.Engine, cfg.DSN, cfg.Allocator())
		if err != nil {
			return nil, err
		}
		return NewSink(s), nil
	})
}

// Sink registers routed tables on a Surface. The surface outlives Close so
// it can still be queried after the run; Surface().Close releases it.
type Sink struct {
	s *Surface

	mu   sync.Mutex
	done bool
}

func NewSink(s *Surface) *Sink { return &Sink{s: s} }

func (k *Sink) Kind() string { return kind }

// Surface is the database the sink registers into.
func (k *Sink) Surface() *Surface { return k.s }

func (k *Sink) Write(ctx context.Context, table string, rec arrow.Record) error {
	k.mu.Lock()
	done := k.done
	k.mu.Unlock()
	if done {
		return fmt.Errorf("query: %w: sink is closed", storage.ErrSinkUnavailable)
	}
	if err := k.s.Register(ctx, table, rec); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrWrite, err)
	}
	return nil
}

func (k *Sink) Close(context.Context) error {
	k.mu.Lock()
	k.done = true
	k.mu.Unlock()
	return nil
}

// Abort drops the surface: nothing registered during an abandoned run
// remains queryable.
func (k *Sink) Abort() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.done {
		return nil
	}
	k.done = true
	return k.s.Close()
}

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/jobpipe/pkg/models"
)

// SchemaLister is the part of the prompt store the loader reads.
type SchemaLister interface {
	ListSchemas(ctx context.Context) ([]models.PromptSchema, error)
}

// Loader loads and caches compiled JSON schemas, keyed by schema name.
type Loader struct {
	repo  SchemaLister
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func NewLoader(ctx context.Context, r SchemaLister) (*Loader, error) {
	l := &Loader{
		repo:  r,
		cache: make(map[string]*jsonschema.Schema),
	}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// GetSchema returns the compiled schema registered under name.
func (l *Loader) GetSchema(name string) (*jsonschema.Schema, bool) {
	l.mu.RLock()
	s, ok := l.cache[name]
	l.mu.RUnlock()
	return s, ok
}

// Reload replaces the cache with every schema in the store. On error the
// previous cache is kept.
func (l *Loader) Reload(ctx context.Context) error {
	rows, err := l.repo.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}

	next := make(map[string]*jsonschema.Schema, len(rows))
	for _, r := range rows {
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal([]byte(r.SchemaJSON), rs); err != nil {
			return fmt.Errorf("compile schema %s: %w", r.Name, err)
		}
		next[r.Name] = rs
	}

	l.mu.Lock()
	l.cache = next
	l.mu.Unlock()
	return nil
}

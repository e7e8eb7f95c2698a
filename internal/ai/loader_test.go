package ai_test

import (
	"context"
	"errors"
	"testing"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// fakeSchemas is an in-memory ai.SchemaLister.
type fakeSchemas struct {
	rows []models.PromptSchema
	err  error
}

func (f *fakeSchemas) ListSchemas(ctx context.Context) ([]models.PromptSchema, error) {
	return f.rows, f.err
}

const versionSchema = `{"$schema":"http://json-schema.org/draft-07/schema#","type":"object","required":["version"],"properties":{"version":{"type":"string"}}}`

func TestLoader_ReloadAndGetSchema(t *testing.T) {
	fs := &fakeSchemas{rows: []models.PromptSchema{{ID: 1, Name: "versioned", SchemaJSON: versionSchema}}}

	l, err := ai.NewLoader(context.Background(), fs)
	if err != nil {
		t.Fatalf("NewLoader error: %v", err)
	}
	s, ok := l.GetSchema("versioned")
	if !ok || s == nil {
		t.Fatalf("expected schema in cache")
	}

	verrs, err := s.ValidateBytes(context.Background(), []byte(`{"version":"v1"}`))
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if len(verrs) != 0 {
		t.Fatalf("expected no validation errors, got: %v", verrs)
	}

	verrs, err = s.ValidateBytes(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if len(verrs) == 0 {
		t.Fatalf("expected a missing-property error")
	}

	if _, ok := l.GetSchema("other"); ok {
		t.Fatalf("unexpected schema for unknown name")
	}
}

func TestLoader_ReloadFailureKeepsCache(t *testing.T) {
	fs := &fakeSchemas{rows: []models.PromptSchema{{Name: "versioned", SchemaJSON: versionSchema}}}
	l, err := ai.NewLoader(context.Background(), fs)
	if err != nil {
		t.Fatalf("NewLoader error: %v", err)
	}

	fs.rows = []models.PromptSchema{{Name: "broken", SchemaJSON: `{not json`}}
	if err := l.Reload(context.Background()); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, ok := l.GetSchema("versioned"); !ok {
		t.Fatalf("failed reload must keep the previous cache")
	}

	fs.err = errors.New("db down")
	if err := l.Reload(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestNewLoader_ListError(t *testing.T) {
	if _, err := ai.NewLoader(context.Background(), &fakeSchemas{err: errors.New("boom")}); err == nil {
		t.Fatalf("expected error")
	}
}

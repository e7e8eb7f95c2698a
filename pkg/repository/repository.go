package repository

import (
	"context"

	"github.com/garnizeh/jobpipe/pkg/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/
// (SQLite) and pkg/repository/memory.
//
// Get methods return (nil, nil) when the row does not exist.

type OpportunityRepo interface {
	CreateOpportunity(ctx context.Context, o *models.Opportunity) (int64, error)
	GetOpportunity(ctx context.Context, id int64) (*models.Opportunity, error)
	SaveOpportunity(ctx context.Context, o *models.Opportunity) error
	ListOpportunities(ctx context.Context, f models.OpportunityFilter) ([]models.Opportunity, error)
}

type ContactRepo interface {
	CreateContact(ctx context.Context, c *models.Contact) (int64, error)
	GetContact(ctx context.Context, id int64) (*models.Contact, error)
	SaveContact(ctx context.Context, c *models.Contact) error
	ListContacts(ctx context.Context, opportunityID int64) ([]models.Contact, error)
	// ListOutreachContacts returns contacts whose outreach has been sent,
	// across all opportunities.
	ListOutreachContacts(ctx context.Context) ([]models.Contact, error)
}

type ActivityRepo interface {
	AppendActivity(ctx context.Context, a *models.Activity) (int64, error)
	// ListActivities returns the trail of one opportunity, oldest first.
	ListActivities(ctx context.Context, opportunityID int64) ([]models.Activity, error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	OpportunityRepo
	ContactRepo
	ActivityRepo
}

// Store is the entity store the pipeline engine reads and writes through.
// WithTx commits when fn returns nil and rolls back otherwise; a successful
// return means the writes are durable.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// PromptRepo stores AI prompt templates and response schemas.
type PromptRepo interface {
	UpsertSchema(ctx context.Context, s *models.PromptSchema) error
	ListSchemas(ctx context.Context) ([]models.PromptSchema, error)
	UpsertTemplate(ctx context.Context, t *models.PromptTemplate) error
	GetTemplate(ctx context.Context, task, version string) (*models.PromptTemplate, error)
	ListTemplates(ctx context.Context) ([]models.PromptTemplate, error)
}

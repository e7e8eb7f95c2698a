package models

import "time"

// PromptSchema is a JSON schema used to validate structured model output.
type PromptSchema struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	SchemaJSON  string    `json:"schema_json" db:"schema_json"`
	Updated     time.Time `json:"updated" db:"updated"`
}

// PromptTemplate is a text/template rendered into a prompt for one AI task.
// SchemaName, when set, names the PromptSchema the response must satisfy.
type PromptTemplate struct {
	ID         int64     `json:"id" db:"id"`
	Task       string    `json:"task" db:"task"`
	Version    string    `json:"version" db:"version"`
	System     string    `json:"system" db:"system"`
	Body       string    `json:"body" db:"body"`
	SchemaName string    `json:"schema_name,omitempty" db:"schema_name"`
	Updated    time.Time `json:"updated" db:"updated"`
}

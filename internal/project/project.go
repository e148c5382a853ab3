// Package project defines the persisted project record: metadata, the typed
// column schema, and the data-source descriptor. The record maps 1:1 to
// config.json; runtime state (workspace, vectors, results) lives in the
// artifact caches.
package project

import "time"

// Version is the config.json format version written by this build.
const Version = "2"

// Project is the persisted project record.
type Project struct {
	Version  string   `json:"version"`
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
	Source   Source   `json:"source"`
	Schema   Schema   `json:"schema"`
}

// Metadata holds the user-facing description of a project.
type Metadata struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Source describes where the project's raw data comes from. The kind
// discriminates the options; readers themselves are out of scope here.
type Source struct {
	Kind    string            `json:"kind"`
	Options map[string]string `json:"options,omitempty"`
}

// New creates a project record with the current format version. The schema
// starts with an empty column list, never nil, so a fresh record serializes
// with a columns array and round-trips through config validation.
func New(id, name string) *Project {
	return &Project{
		Version: Version,
		ID:      id,
		Metadata: Metadata{
			Name:      name,
			CreatedAt: time.Now().UTC(),
		},
		Schema: Schema{Columns: []Column{}},
	}
}

// TextualColumns returns the schema's textual columns in order.
func (p *Project) TextualColumns() []Column {
	var cols []Column

	for _, col := range p.Schema.Columns {
		if col.Type == ColumnTextual {
			cols = append(cols, col)
		}
	}

	return cols
}

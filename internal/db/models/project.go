package models

import (
	"encoding/json"
	"time"
)

// Project represents a tracked software project. (UserID, ProjectName) is
// unique; projects are auto-provisioned on first sync or created explicitly.
// Tagged for sqlx row scanning; Tags stays raw JSONB and is decoded on demand.
type Project struct {
	ID           string          `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"user_id"`
	ProjectName  string          `db:"project_name" json:"project_name"`
	RepoURL      string          `db:"repo_url" json:"repo_url"`
	Description  string          `db:"description" json:"description"`
	Tags         json.RawMessage `db:"tags" json:"tags"`
	LatestSbomID *string         `db:"latest_sbom_id" json:"latest_sbom_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	// Joined fields (not stored in the projects table)
	SbomCount int `db:"sbom_count" json:"sbom_count"`
}

// TagList decodes the JSONB tag array; a missing or malformed value yields an
// empty list rather than an error.
func (p *Project) TagList() []string {
	if len(p.Tags) == 0 {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal(p.Tags, &tags); err != nil {
		return []string{}
	}
	return tags
}

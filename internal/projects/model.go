package projects

import (
	"time"

	"resume-tailor/internal/versions"
	"resume-tailor/resume/model"
)

// Project is one resume being tailored. Content is the live document; the
// version state records every tailored snapshot per section.
type Project struct {
	ID        string
	UserID    string
	Title     string
	Content   model.Document
	Versions  versions.State
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Clone returns a deep copy so callers can mutate content and versions freely.
func (p Project) Clone() Project {
	out := p
	out.Content = p.Content.Clone()
	out.Versions = p.Versions.Clone()
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

package projects

import (
	"time"

	"resume-tailor/internal/versions"
	"resume-tailor/resume/model"
)

// ProjectResponse is the outward-facing representation of a project.
type ProjectResponse struct {
	ProjectID string            `json:"projectId"`
	Title     string            `json:"title"`
	Content   model.Document    `json:"content"`
	Pointers  versions.Pointers `json:"pointers"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ProjectSummary is the list view of a project.
type ProjectSummary struct {
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	Sections  []string  `json:"sections"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToResponse renders a project for clients.
func ToResponse(p Project) ProjectResponse {
	pointers := p.Versions.Pointers
	if pointers == nil {
		pointers = versions.Pointers{}
	}
	return ProjectResponse{
		ProjectID: p.ID,
		Title:     p.Title,
		Content:   p.Content,
		Pointers:  pointers,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toSummary(p Project) ProjectSummary {
	sections := make([]string, 0, len(model.AllSections))
	for _, s := range p.Content.Sections() {
		sections = append(sections, string(s))
	}
	return ProjectSummary{
		ProjectID: p.ID,
		Title:     p.Title,
		Sections:  sections,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Section names one of the independently versioned parts of a resume.
type Section string

const (
	SectionSummary    Section = "summary"
	SectionExperience Section = "experience"
	SectionProjects   Section = "projects"
	SectionSkills     Section = "skills"
)

// AllSections lists the tracked sections in canonical order.
var AllSections = []Section{SectionSummary, SectionExperience, SectionProjects, SectionSkills}

var (
	// ErrUnknownSection is returned for names outside the tracked section set.
	ErrUnknownSection = errors.New("unknown section")
	// ErrSectionMismatch is returned when content is assigned to the wrong section.
	ErrSectionMismatch = errors.New("content does not belong to section")
)

// ParseSection validates a section name.
func ParseSection(raw string) (Section, error) {
	s := Section(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllSections {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSection, raw)
}

// SectionContent is the typed content of a single section. The set of
// implementations is closed: SummaryContent, ExperienceContent,
// ProjectsContent and SkillsContent.
type SectionContent interface {
	Section() Section
	normalized() SectionContent
	clone() SectionContent
}

// SummaryContent holds the summary lines.
type SummaryContent struct {
	Lines []string
}

func (SummaryContent) Section() Section { return SectionSummary }

func (c SummaryContent) normalized() SectionContent {
	return SummaryContent{Lines: nonNilStrings(c.Lines)}
}

func (c SummaryContent) clone() SectionContent {
	return SummaryContent{Lines: cloneStrings(c.Lines)}
}

func (c SummaryContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(nonNilStrings(c.Lines))
}

func (c *SummaryContent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Lines)
}

// ExperienceContent holds the work history entries.
type ExperienceContent struct {
	Entries []ExperienceEntry
}

func (ExperienceContent) Section() Section { return SectionExperience }

func (c ExperienceContent) normalized() SectionContent {
	out := make([]ExperienceEntry, len(c.Entries))
	for i, e := range c.Entries {
		e.Highlights = nonNilStrings(e.Highlights)
		out[i] = e
	}
	return ExperienceContent{Entries: out}
}

func (c ExperienceContent) clone() SectionContent {
	if c.Entries == nil {
		return ExperienceContent{}
	}
	out := make([]ExperienceEntry, len(c.Entries))
	for i, e := range c.Entries {
		e.Highlights = cloneStrings(e.Highlights)
		out[i] = e
	}
	return ExperienceContent{Entries: out}
}

func (c ExperienceContent) MarshalJSON() ([]byte, error) {
	if c.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Entries)
}

func (c *ExperienceContent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Entries)
}

// ProjectsContent holds the project entries.
type ProjectsContent struct {
	Entries []ProjectEntry
}

func (ProjectsContent) Section() Section { return SectionProjects }

func (c ProjectsContent) normalized() SectionContent {
	out := make([]ProjectEntry, len(c.Entries))
	for i, p := range c.Entries {
		p.Highlights = nonNilStrings(p.Highlights)
		out[i] = p
	}
	return ProjectsContent{Entries: out}
}

func (c ProjectsContent) clone() SectionContent {
	if c.Entries == nil {
		return ProjectsContent{}
	}
	out := make([]ProjectEntry, len(c.Entries))
	for i, p := range c.Entries {
		p.Highlights = cloneStrings(p.Highlights)
		out[i] = p
	}
	return ProjectsContent{Entries: out}
}

func (c ProjectsContent) MarshalJSON() ([]byte, error) {
	if c.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Entries)
}

func (c *ProjectsContent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Entries)
}

// SkillsContent holds the categorized skills.
type SkillsContent struct {
	Skills SkillSet
}

func (SkillsContent) Section() Section { return SectionSkills }

func (c SkillsContent) normalized() SectionContent {
	s := c.Skills
	return SkillsContent{Skills: SkillSet{
		Languages:     nonNilStrings(s.Languages),
		Frameworks:    nonNilStrings(s.Frameworks),
		Databases:     nonNilStrings(s.Databases),
		CloudDevOps:   nonNilStrings(s.CloudDevOps),
		Observability: nonNilStrings(s.Observability),
		Tools:         nonNilStrings(s.Tools),
	}}
}

func (c SkillsContent) clone() SectionContent {
	s := c.Skills
	return SkillsContent{Skills: SkillSet{
		Languages:     cloneStrings(s.Languages),
		Frameworks:    cloneStrings(s.Frameworks),
		Databases:     cloneStrings(s.Databases),
		CloudDevOps:   cloneStrings(s.CloudDevOps),
		Observability: cloneStrings(s.Observability),
		Tools:         cloneStrings(s.Tools),
	}}
}

func (c SkillsContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.normalized().(SkillsContent).Skills)
}

func (c *SkillsContent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Skills)
}

// Equal reports deep structural equality of two section values. A nil slice
// and an empty slice compare equal; absent (nil) content only equals absent
// content.
func Equal(a, b SectionContent) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Section() != b.Section() {
		return false
	}
	return reflect.DeepEqual(a.normalized(), b.normalized())
}

// Clone returns a deep copy of the content, or nil for nil.
func Clone(c SectionContent) SectionContent {
	if c == nil {
		return nil
	}
	return c.clone()
}

// DecodeSection decodes raw JSON into the typed content for section s.
func DecodeSection(s Section, raw json.RawMessage) (SectionContent, error) {
	switch s {
	case SectionSummary:
		var c SummaryContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s, err)
		}
		return c, nil
	case SectionExperience:
		var c ExperienceContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s, err)
		}
		return c, nil
	case SectionProjects:
		var c ProjectsContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s, err)
		}
		return c, nil
	case SectionSkills:
		var c SkillsContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
}

// Document is the live structured resume: one optional value per section.
type Document struct {
	Summary    *SummaryContent    `json:"summary,omitempty"`
	Experience *ExperienceContent `json:"experience,omitempty"`
	Projects   *ProjectsContent   `json:"projects,omitempty"`
	Skills     *SkillsContent     `json:"skills,omitempty"`
}

// Get returns the content for s, or nil when the section is absent.
func (d Document) Get(s Section) SectionContent {
	switch s {
	case SectionSummary:
		if d.Summary != nil {
			return *d.Summary
		}
	case SectionExperience:
		if d.Experience != nil {
			return *d.Experience
		}
	case SectionProjects:
		if d.Projects != nil {
			return *d.Projects
		}
	case SectionSkills:
		if d.Skills != nil {
			return *d.Skills
		}
	}
	return nil
}

// Set assigns a copy of c to section s. A nil c removes the section.
func (d *Document) Set(s Section, c SectionContent) error {
	if c != nil && c.Section() != s {
		return fmt.Errorf("%w: %s", ErrSectionMismatch, s)
	}
	c = Clone(c)
	switch s {
	case SectionSummary:
		d.Summary = nil
		if c != nil {
			v := c.(SummaryContent)
			d.Summary = &v
		}
	case SectionExperience:
		d.Experience = nil
		if c != nil {
			v := c.(ExperienceContent)
			d.Experience = &v
		}
	case SectionProjects:
		d.Projects = nil
		if c != nil {
			v := c.(ProjectsContent)
			d.Projects = &v
		}
	case SectionSkills:
		d.Skills = nil
		if c != nil {
			v := c.(SkillsContent)
			d.Skills = &v
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSection, s)
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	var out Document
	for _, s := range AllSections {
		_ = out.Set(s, d.Get(s))
	}
	return out
}

// Sections lists the sections present in the document.
func (d Document) Sections() []Section {
	var out []Section
	for _, s := range AllSections {
		if d.Get(s) != nil {
			out = append(out, s)
		}
	}
	return out
}

// Only returns a copy of the document restricted to the given sections.
func (d Document) Only(sections []Section) Document {
	var out Document
	for _, s := range sections {
		_ = out.Set(s, d.Get(s))
	}
	return out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

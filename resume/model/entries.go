package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SkillSet groups skills by category.
type SkillSet struct {
	Languages     []string `json:"languages"`
	Frameworks    []string `json:"frameworks"`
	Databases     []string `json:"databases"`
	CloudDevOps   []string `json:"cloudDevOps"`
	Observability []string `json:"observability"`
	Tools         []string `json:"tools"`
}

// ExperienceEntry is one position in the work history.
type ExperienceEntry struct {
	ID         string   `json:"id"`
	Company    string   `json:"company"`
	Role       string   `json:"role"`
	Location   string   `json:"location"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Highlights []string `json:"highlights"`
}

// ProjectEntry is one item of the projects section.
type ProjectEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Highlights  []string `json:"highlights"`
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ErrInvalidDate is wrapped by every date problem Validate reports.
var ErrInvalidDate = errors.New("invalid date")

// Validate checks the dates of every dated entry in the document. Dates are
// YYYY-MM; an end may also be "Present". All problems are reported at once.
func (d Document) Validate() error {
	var errs []error
	if d.Experience != nil {
		for i, e := range d.Experience.Entries {
			errs = append(errs, checkSpan(fmt.Sprintf("experience[%d]", i), e.Start, e.End))
		}
	}
	if d.Projects != nil {
		for i, p := range d.Projects.Entries {
			errs = append(errs, checkSpan(fmt.Sprintf("projects[%d]", i), p.Start, p.End))
		}
	}
	return errors.Join(errs...)
}

func checkSpan(field, start, end string) error {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	var errs []error
	if start != "" && !monthPattern.MatchString(start) {
		errs = append(errs, fmt.Errorf("%w: %s.start must be YYYY-MM", ErrInvalidDate, field))
	}
	current := strings.EqualFold(end, "present")
	if end != "" && !current && !monthPattern.MatchString(end) {
		errs = append(errs, fmt.Errorf("%w: %s.end must be YYYY-MM or Present", ErrInvalidDate, field))
	}
	if len(errs) == 0 && start != "" && end != "" && !current && end < start {
		errs = append(errs, fmt.Errorf("%w: %s ends before it starts", ErrInvalidDate, field))
	}
	return errors.Join(errs...)
}

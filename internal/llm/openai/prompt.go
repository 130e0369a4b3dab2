package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"resume-tailor/internal/shared/util"
	"resume-tailor/resume/model"
)

// Message represents an OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

const (
	systemPromptTailor  = "You are a resume tailoring engine. Respond with JSON only. No markdown. Output must match the input shape exactly."
	systemPromptFixJSON = "You are a JSON repair tool. Return only valid JSON that matches the input shape exactly."

	developerPromptTailor = `Rewrite the resume sections in the user message so they target the job description.
Rules:
- Return a JSON object whose keys are exactly the section names given: {{SECTIONS}}.
- "summary" is an array of strings.
- "experience" is an array of objects with id, company, role, location, start, end, highlights.
- "projects" is an array of objects with name, description, start, end, highlights.
- "skills" is an object with languages, frameworks, databases, cloudDevOps, observability, tools arrays.
- Never invent employers, dates, titles or metrics. Keep ids, companies, roles and dates unchanged.
- Dates stay in YYYY-MM or "Present".
- If a section needs no change, return it unchanged.
Model: {{MODEL}}`
)

// BuildPrompt creates the chat messages for a tailoring request over the
// given sections.
func BuildPrompt(jobDescription string, sections []model.Section, content model.Document, modelName string) ([]Message, error) {
	payload, err := json.MarshalIndent(content.Only(sections), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	return []Message{
		{Role: "system", Content: systemPromptTailor},
		{Role: "developer", Content: developerPrompt(sections, modelName)},
		{Role: "user", Content: buildUserPrompt(string(payload), jobDescription)},
	}, nil
}

func buildFixPrompt(sections []model.Section, modelName string, raw []byte) []Message {
	return []Message{
		{Role: "system", Content: systemPromptFixJSON},
		{Role: "developer", Content: developerPrompt(sections, modelName)},
		{Role: "user", Content: fixUserPrompt(raw)},
	}
}

func developerPrompt(sections []model.Section, modelName string) string {
	names := make([]string, 0, len(sections))
	for _, s := range sections {
		names = append(names, fmt.Sprintf("%q", s))
	}
	replacer := strings.NewReplacer(
		"{{SECTIONS}}", strings.Join(names, ", "),
		"{{MODEL}}", modelName,
	)
	return replacer.Replace(developerPromptTailor)
}

func buildUserPrompt(sectionsJSON, jobDescription string) string {
	jd := jobDescription
	if strings.TrimSpace(jd) == "" {
		jd = "N/A"
	}
	return fmt.Sprintf("Resume Sections:\n%s\n\nJob Description:\n%s", sectionsJSON, jd)
}

func fixUserPrompt(raw []byte) string {
	return fmt.Sprintf("Fix this JSON to match the shape exactly. Output JSON only:\n%s", string(raw))
}

func promptStringFromMessages(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func hashPromptString(prompt string) string {
	return util.Fingerprint(prompt)
}

package main

// Dry-run a tailoring pass against a resume JSON file without touching the
// ledger:
//   go run ./cmd/prompttest -resume resume.json -jd job.txt -sections summary,skills

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/llm"
	openai "resume-tailor/internal/llm/openai"
	"resume-tailor/internal/shared/config"
	"resume-tailor/internal/versions"
	"resume-tailor/resume/model"
)

type report struct {
	Model      string                    `json:"model"`
	PromptHash string                    `json:"promptHash,omitempty"`
	Usage      llm.Usage                 `json:"usage"`
	Charge     string                    `json:"charge"`
	Outcomes   []versions.SectionOutcome `json:"outcomes"`
	Content    model.Document            `json:"content"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		exitErr(err.Error())
	}

	resumePath := flag.String("resume", "", "Path to resume content JSON")
	jdPath := flag.String("jd", "", "Path to job description file")
	sectionList := flag.String("sections", "", "Comma-separated sections to tailor (default: all present)")
	outPath := flag.String("out", "", "Path to write the report (optional)")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider")
	modelName := flag.String("model", cfg.LLMModel, "LLM model")
	flag.Parse()

	if strings.TrimSpace(*resumePath) == "" || strings.TrimSpace(*jdPath) == "" {
		exitErr("-resume and -jd are required")
	}
	content, err := readDocument(*resumePath)
	if err != nil {
		exitErr(err.Error())
	}
	jd, err := os.ReadFile(*jdPath)
	if err != nil {
		exitErr(fmt.Sprintf("read job description: %v", err))
	}
	sections, err := parseSections(*sectionList)
	if err != nil {
		exitErr(err.Error())
	}

	client, err := buildClient(cfg, *provider, *modelName)
	if err != nil {
		exitErr(err.Error())
	}
	policy := credits.Policy{
		TokensPerCredit:   cfg.Credits.TokensPerCredit,
		RoundingIncrement: cfg.Credits.RoundingIncrement,
		MinimumForTailor:  cfg.Credits.MinimumForTailor,
	}

	out, err := client.Tailor(context.Background(), llm.TailorInput{
		JobDescription: string(jd),
		Sections:       sections,
		Content:        content,
	})
	if err != nil {
		exitErr(fmt.Sprintf("llm tailor: %v", err))
	}
	rep, err := buildReport(policy, content, out)
	if err != nil {
		exitErr(err.Error())
	}

	pretty, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}
	pretty = append(pretty, '\n')
	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}
	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
}

// buildReport reconciles against a fresh version state, so every outcome is
// relative to the file as given.
func buildReport(policy credits.Policy, content model.Document, out llm.TailorOutput) (report, error) {
	charge, err := policy.Charge(out.Usage.TotalTokens)
	if err != nil {
		return report{}, err
	}
	state := versions.NewState()
	live, outcomes := state.Reconcile(content, out.Content)
	return report{
		Model:      out.Model,
		PromptHash: out.PromptHash,
		Usage:      out.Usage,
		Charge:     charge.StringFixed(2),
		Outcomes:   outcomes,
		Content:    live,
	}, nil
}

func readDocument(path string) (model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Document{}, fmt.Errorf("read resume: %w", err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return model.Document{}, fmt.Errorf("read resume: %w", err)
	}
	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Document{}, fmt.Errorf("decode resume: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return model.Document{}, fmt.Errorf("invalid resume: %w", err)
	}
	return doc, nil
}

func parseSections(raw string) ([]model.Section, error) {
	var out []model.Section
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := model.ParseSection(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func buildClient(cfg config.Config, provider, modelName string) (llm.Tailorer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return openai.NewTailorClient(cfg.OpenAIAPIKey, modelName, openai.Options{
			Timeout:             cfg.OpenAITimeout,
			NoTemperatureModels: cfg.LLMNoTempModels,
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// Package security runs a post-run advisory vulnerability scan over the
// files touched by completed batches, supplementing the distilled spec
// per SPEC_FULL.md C14.
package security

import (
	"context"
	"encoding/json"

	"github.com/GTWhalley/Refactorio/internal/agent"
	"github.com/GTWhalley/Refactorio/internal/contextpack"
)

// Severity is the severity of one finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

// Category is the kind of vulnerability a finding describes.
type Category string

const (
	CategoryInjection      Category = "injection"
	CategoryAuth           Category = "auth"
	CategoryDataExposure   Category = "data_exposure"
	CategoryCrypto         Category = "crypto"
	CategoryInputValidation Category = "input_validation"
	CategoryRaceCondition  Category = "race_condition"
	CategoryDependency     Category = "dependency"
	CategoryConfiguration  Category = "configuration"
	CategoryOther          Category = "other"
)

// OverallRisk is the reviewer's aggregate risk assessment.
type OverallRisk string

const (
	RiskCritical OverallRisk = "critical"
	RiskHigh     OverallRisk = "high"
	RiskMedium   OverallRisk = "medium"
	RiskLow      OverallRisk = "low"
	RiskNone     OverallRisk = "none"
)

// Finding is a single security finding.
type Finding struct {
	Severity       Severity `json:"severity"`
	Category       Category `json:"category"`
	File           string   `json:"file"`
	Line           int      `json:"line"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	CWE            string   `json:"cwe,omitempty"`
}

// Summary counts findings by severity.
type Summary struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Info   int `json:"info"`
}

// Total is the sum of every severity bucket.
func (s Summary) Total() int { return s.High + s.Medium + s.Low + s.Info }

// Result is the outcome of one security review.
type Result struct {
	Success      bool        `json:"success"`
	Findings     []Finding   `json:"findings"`
	Summary      Summary     `json:"summary"`
	OverallRisk  OverallRisk `json:"overall_risk"`
	Notes        string      `json:"notes,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// HasBlockingIssues reports whether the result should be surfaced as a
// blocking advisory: any high-severity finding (when blockOnHigh is
// set) or a critical overall risk. Per SPEC_FULL §4.12, this never
// reverts a checkpoint — it is additive reporting only.
func (r Result) HasBlockingIssues(blockOnHigh bool) bool {
	if blockOnHigh && r.Summary.High > 0 {
		return true
	}
	return r.OverallRisk == RiskCritical
}

type envelope struct {
	Findings    []rawFinding `json:"findings"`
	Summary     rawSummary   `json:"summary"`
	OverallRisk string       `json:"overall_risk"`
	Notes       string       `json:"notes"`
}

type rawFinding struct {
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	File           string `json:"file"`
	Line           int    `json:"line"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
	CWE            string `json:"cwe"`
}

type rawSummary struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Info   int `json:"info"`
}

func fromResponse(structured map[string]any) Result {
	raw, err := json.Marshal(structured)
	if err != nil {
		return Result{Success: false, ErrorMessage: "malformed security response: " + err.Error()}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{Success: false, ErrorMessage: "malformed security response: " + err.Error()}
	}

	findings := make([]Finding, 0, len(env.Findings))
	for _, f := range env.Findings {
		findings = append(findings, Finding{
			Severity:       Severity(f.Severity),
			Category:       Category(f.Category),
			File:           f.File,
			Line:           f.Line,
			Title:          f.Title,
			Description:    f.Description,
			Recommendation: f.Recommendation,
			CWE:            f.CWE,
		})
	}

	risk := OverallRisk(env.OverallRisk)
	if risk == "" {
		risk = RiskNone
	}

	return Result{
		Success: true,
		Findings: findings,
		Summary: Summary{
			High:   env.Summary.High,
			Medium: env.Summary.Medium,
			Low:    env.Summary.Low,
			Info:   env.Summary.Info,
		},
		OverallRisk: risk,
		Notes:       env.Notes,
	}
}

// ContextPacker is the subset of contextpack.Builder the reviewer
// needs, so tests can substitute a stub.
type ContextPacker interface {
	BuildSecurityContext(changedFiles []string, contextSummary string) string
}

// Review runs a security review over changedFiles. An empty file list
// is a success with a "no files to review" note, not an error.
func Review(ctx context.Context, driver *agent.Driver, packer ContextPacker, changedFiles []string, contextSummary string) Result {
	if len(changedFiles) == 0 {
		return Result{Success: true, Notes: "No files to review", OverallRisk: RiskNone}
	}

	prompt := packer.BuildSecurityContext(changedFiles, contextSummary)
	resp := driver.CallSecurity(ctx, prompt)
	if !resp.Success {
		return Result{Success: false, ErrorMessage: resp.ErrorMessage}
	}
	if resp.StructuredOutput == nil {
		return Result{Success: false, ErrorMessage: "no structured output from security review"}
	}
	return fromResponse(resp.StructuredOutput)
}

var _ ContextPacker = (*contextpack.Builder)(nil)

// Package recgen produces clinical recommendation drafts from a HER2
// prediction and its clinical context. Generation is delegated to an
// external LLM-backed service over HTTP; a deterministic template
// generator stands in when no service is configured.
package recgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oncocase/oncocase/pkg/apperr"
)

// TemplateModelVersion identifies drafts produced by the built-in templates
// rather than the external generator.
const TemplateModelVersion = "template-v1"

// lowConfidenceThreshold is the confidence below which drafts call for an
// additional pathology review.
const lowConfidenceThreshold = 0.85

// Input carries everything the generator needs about one case.
type Input struct {
	CaseCode       string             `json:"case_code"`
	HER2Status     string             `json:"her2_status"`
	Confidence     float64            `json:"confidence"`
	RiskLevel      string             `json:"risk_level"`
	RiskScore      float64            `json:"risk_score"`
	Probabilities  map[string]float64 `json:"probabilities,omitempty"`
	ClinicalNotes  string             `json:"clinical_notes,omitempty"`
	PatientHistory string             `json:"patient_history,omitempty"`
}

// Draft is a structured recommendation before review.
type Draft struct {
	ClinicalAssessment       string   `json:"clinical_assessment"`
	TreatmentRecommendations []string `json:"treatment_recommendations"`
	FollowupSchedule         []string `json:"followup_schedule"`
	RiskMitigation           []string `json:"risk_mitigation"`
	ModelVersion             string   `json:"model_version"`
}

// FormatText renders the draft as the flat text stored alongside the
// structured fields.
func (d *Draft) FormatText() string {
	var b strings.Builder
	b.WriteString("CLINICAL ASSESSMENT:\n")
	b.WriteString(d.ClinicalAssessment)
	b.WriteString("\n\nTREATMENT RECOMMENDATIONS:\n")
	for i, rec := range d.TreatmentRecommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}
	b.WriteString("\nFOLLOW-UP SCHEDULE:\n")
	for i, item := range d.FollowupSchedule {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	b.WriteString("\nRISK MITIGATION STRATEGIES:\n")
	for i, item := range d.RiskMitigation {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return b.String()
}

func (d *Draft) validate() error {
	if d.ClinicalAssessment == "" {
		return fmt.Errorf("empty clinical_assessment")
	}
	if len(d.TreatmentRecommendations) == 0 {
		return fmt.Errorf("empty treatment_recommendations")
	}
	if len(d.FollowupSchedule) == 0 {
		return fmt.Errorf("empty followup_schedule")
	}
	if len(d.RiskMitigation) == 0 {
		return fmt.Errorf("empty risk_mitigation")
	}
	return nil
}

// Generator produces a recommendation draft for one prediction.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Draft, error)
}

// HTTPGenerator calls the recommendation service over HTTP.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGenerator creates a generator against the given base URL.
func NewHTTPGenerator(baseURL string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

// Generate posts the input as JSON and decodes the structured draft.
// Failures surface as apperr.Upstream.
func (g *HTTPGenerator) Generate(ctx context.Context, in Input) (*Draft, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperr.Upstream("recommendation service unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperr.Upstream("recommendation service error",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	var draft Draft
	if err := json.NewDecoder(resp.Body).Decode(&draft); err != nil {
		return nil, apperr.Upstream("recommendation service returned malformed response", err)
	}
	if err := draft.validate(); err != nil {
		return nil, apperr.Upstream("recommendation service returned incomplete draft", err)
	}
	return &draft, nil
}

// TemplateGenerator builds drafts from fixed per-class templates. Used in
// development and as the fallback when no external service is configured.
type TemplateGenerator struct{}

var treatmentsByStatus = map[string][]string{
	"HER2_0": {
		"Proceed with standard non-HER2 targeted therapy pathways, pending IHC/ISH confirmation",
		"Evaluate hormone receptor status to guide endocrine therapy options",
		"Discuss chemotherapy regimens appropriate for HER2-negative disease with the tumor board",
	},
	"HER2_1+": {
		"Consider HER2-low targeted options such as T-DXd if eligibility criteria are met, pending IHC/ISH confirmation",
		"Reassess HER2 expression on any subsequent biopsy given category instability",
		"Review hormone receptor status for combined therapy planning",
	},
	"HER2_2+": {
		"Obtain ISH/FISH reflex testing before any HER2-directed therapy decision",
		"Defer HER2-targeted therapy until the equivocal result is resolved, pending IHC/ISH confirmation",
		"Present the case at the multidisciplinary tumor board",
	},
	"HER2_3+": {
		"Plan a HER2-targeted therapy pathway (e.g. trastuzumab-based regimen), pending IHC/ISH confirmation",
		"Obtain baseline cardiac function assessment before anti-HER2 therapy",
		"Coordinate staging workup to finalize the treatment plan",
	},
}

var followupByRisk = map[string][]string{
	"low": {
		"Confirmatory IHC testing within 4 weeks",
		"Routine oncology follow-up in 3 months",
		"Reassess at next scheduled imaging interval",
	},
	"medium": {
		"Confirmatory IHC testing within 2 weeks",
		"Oncology follow-up in 6 weeks",
		"Repeat assessment after confirmatory results are available",
	},
	"high": {
		"Confirmatory IHC plus ISH testing within 1 week",
		"Oncology consultation within 2 weeks",
		"Tumor board review once confirmatory results return",
	},
	"critical": {
		"Urgent confirmatory IHC plus ISH testing within 72 hours",
		"Oncology consultation within 1 week",
		"Expedited tumor board review",
		"Cardiac baseline assessment scheduled before therapy start",
	},
}

// Generate builds a deterministic draft from the input.
func (TemplateGenerator) Generate(_ context.Context, in Input) (*Draft, error) {
	treatments, ok := treatmentsByStatus[in.HER2Status]
	if !ok {
		return nil, fmt.Errorf("unknown HER2 status %q", in.HER2Status)
	}
	followup := followupByRisk[in.RiskLevel]
	if followup == nil {
		followup = followupByRisk["medium"]
	}

	assessment := fmt.Sprintf(
		"AI analysis of case %s classifies the sample as %s with %.1f%% confidence (risk: %s, score %.1f/100). "+
			"This prediction is an assistive signal, not a diagnostic conclusion, and requires confirmation via IHC with reflex ISH testing before treatment decisions.",
		in.CaseCode, in.HER2Status, in.Confidence*100, in.RiskLevel, in.RiskScore)
	if in.Confidence < lowConfidenceThreshold {
		assessment += " Model confidence is below the review threshold; an additional pathology review is strongly recommended."
	}
	if in.ClinicalNotes != "" {
		assessment += " Physician notes were considered in this assessment."
	}
	assessment += " Final treatment decisions rest with the treating oncologist."

	mitigation := []string{
		"Validate the AI prediction against confirmatory IHC/ISH results before acting on it",
		"Document any discordance between the prediction and pathology findings",
		"Ensure the treating oncologist reviews and approves all recommendations",
	}
	if in.Confidence < lowConfidenceThreshold {
		mitigation = append(mitigation, "Request a second pathologist review given the low model confidence")
	}

	return &Draft{
		ClinicalAssessment:       assessment,
		TreatmentRecommendations: append([]string(nil), treatments...),
		FollowupSchedule:         append([]string(nil), followup...),
		RiskMitigation:           mitigation,
		ModelVersion:             TemplateModelVersion,
	}, nil
}

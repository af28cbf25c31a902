// Package screening is a client for the Tarang screening processing endpoint,
// which fuses session video metrics with a questionnaire score into a risk result.
package screening

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tarang-care/tarang-live/internal/httpc"
	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/metrics"
)

// APIError is an error response from the endpoint.
type APIError = httpc.APIError

// MaxQuestionnaireScore is the top of the questionnaire scale.
const MaxQuestionnaireScore = 20

// ErrNoMetrics is returned when a session produced no face-detected samples.
var ErrNoMetrics = errors.New("screening: session has no detected samples")

// VideoMetrics are the session averages sent for scoring.
type VideoMetrics struct {
	EyeContact        float64 `json:"eye_contact"`
	MotorCoordination float64 `json:"motor_coordination"`
}

// Request is the body of POST /screening/process.
type Request struct {
	VideoMetrics       VideoMetrics `json:"video_metrics"`
	QuestionnaireScore int          `json:"questionnaire_score"`
	PatientName        string       `json:"patient_name,omitempty"`
}

// Breakdown is the per-modality contribution, each in percent.
type Breakdown struct {
	Behavioral    float64 `json:"behavioral"`
	Questionnaire float64 `json:"questionnaire"`
	Physiological float64 `json:"physiological"`
	MLModel       float64 `json:"ml_model,omitempty"`
}

// RiskResults is the fused risk assessment.
type RiskResults struct {
	RiskScore        float64   `json:"risk_score"` // percent
	Confidence       string    `json:"confidence"`
	DissonanceFactor float64   `json:"dissonance_factor,omitempty"`
	Interpretation   string    `json:"interpretation,omitempty"`
	FusionMethod     string    `json:"fusion_method,omitempty"`
	Breakdown        Breakdown `json:"breakdown"`
}

// ClinicalSummary is the generated clinician-facing summary.
type ClinicalSummary struct {
	SummaryTitle           string   `json:"summary_title,omitempty"`
	KeyFindings            []string `json:"key_findings,omitempty"`
	ClinicalRecommendation string   `json:"clinical_recommendation"`
}

// Response is the body returned by POST /screening/process.
type Response struct {
	SessionID       json.Number     `json:"session_id"`
	RiskResults     RiskResults     `json:"risk_results"`
	ClinicalSummary ClinicalSummary `json:"clinical_summary"`
	AsyncStatus     string          `json:"async_status,omitempty"`
	ReportURL       string          `json:"report_url,omitempty"`
}

// Client calls the screening endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// New creates a client for apiURL. Requests carry token as a bearer token
// when it is non-empty. base nil means the shared httpc client.
func New(apiURL, token string, base *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		http:    httpc.WithToken(base, token),
		log:     log.Component("screening"),
	}
}

// NewRequest builds a request from a session summary. The questionnaire
// score is clamped to [0, MaxQuestionnaireScore].
func NewRequest(sum metrics.Summary, questionnaire int, patient string) (Request, error) {
	if sum.Detected == 0 {
		return Request{}, ErrNoMetrics
	}
	questionnaire = min(max(questionnaire, 0), MaxQuestionnaireScore)
	return Request{
		VideoMetrics: VideoMetrics{
			EyeContact:        sum.EyeContact,
			MotorCoordination: sum.MotorStability,
		},
		QuestionnaireScore: questionnaire,
		PatientName:        patient,
	}, nil
}

// Process submits a session for scoring.
func (c *Client) Process(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/screening/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("process screening: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := httpc.ParseError(resp)
		c.log.Warn("screening rejected", "status", apiErr.StatusCode, "detail", apiErr.Detail)
		return nil, apiErr
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.log.Info("screening processed",
		"session_id", out.SessionID.String(),
		"risk_score", out.RiskResults.RiskScore,
		"confidence", out.RiskResults.Confidence,
	)
	return &out, nil
}

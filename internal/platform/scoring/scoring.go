// Package scoring talks to the HER2 image-scoring service. The service is a
// black box behind a small HTTP contract: it receives a tissue image and
// returns a HER2 classification with class probabilities and, on request, an
// attention heatmap.
package scoring

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/oncocase/oncocase/pkg/apperr"
)

// ModelVersion identifies the classifier release results are attributed to.
const ModelVersion = "v2.4.1"

// ValidStatuses lists the HER2 classes the model emits.
var ValidStatuses = map[string]bool{
	"HER2_0":  true,
	"HER2_1+": true,
	"HER2_2+": true,
	"HER2_3+": true,
}

// risk maps each HER2 class to the clinical risk tier used downstream.
var riskByStatus = map[string]struct {
	Level string
	Score float64
}{
	"HER2_0":  {"low", 15},
	"HER2_1+": {"medium", 35},
	"HER2_2+": {"high", 65},
	"HER2_3+": {"critical", 90},
}

// RiskForStatus returns the risk level and score for a HER2 class.
func RiskForStatus(status string) (string, float64, bool) {
	r, ok := riskByStatus[status]
	return r.Level, r.Score, ok
}

// Result is the outcome of scoring one image.
type Result struct {
	HER2Status    string             `json:"her2_status"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	ModelVersion  string             `json:"model_version"`
	Heatmap       []byte             `json:"-"`
}

// Scorer scores a tissue image.
type Scorer interface {
	Score(ctx context.Context, image []byte, fileName string, generateHeatmap bool) (*Result, error)
}

// HTTPScorer calls the scoring service over HTTP.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScorer creates a scorer against the given base URL.
func NewHTTPScorer(baseURL string) *HTTPScorer {
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type scoreResponse struct {
	HER2Status    string             `json:"her2_status"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	ModelVersion  string             `json:"model_version"`
	HeatmapBase64 string             `json:"heatmap_base64"`
}

// Score posts the image as multipart form data and decodes the scoring
// response. Failures surface as apperr.Upstream; there is no retry here,
// the caller decides whether a prediction attempt is repeated.
func (s *HTTPScorer) Score(ctx context.Context, image []byte, fileName string, generateHeatmap bool) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("image", fileName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.WriteField("generate_heatmap", strconv.FormatBool(generateHeatmap)); err != nil {
		return nil, fmt.Errorf("write heatmap field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/predict", &body)
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Upstream("scoring service unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperr.Upstream("scoring service error",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, apperr.Upstream("scoring service returned malformed response", err)
	}
	if !ValidStatuses[sr.HER2Status] {
		return nil, apperr.Upstream("scoring service returned unknown class",
			fmt.Errorf("her2_status %q", sr.HER2Status))
	}

	result := &Result{
		HER2Status:    sr.HER2Status,
		Confidence:    sr.Confidence,
		Probabilities: sr.Probabilities,
		ModelVersion:  sr.ModelVersion,
	}
	if result.ModelVersion == "" {
		result.ModelVersion = ModelVersion
	}
	if sr.HeatmapBase64 != "" {
		heatmap, err := base64.StdEncoding.DecodeString(sr.HeatmapBase64)
		if err != nil {
			return nil, apperr.Upstream("scoring service returned malformed heatmap", err)
		}
		result.Heatmap = heatmap
	}
	return result, nil
}

// StubScorer produces deterministic results from the image content. It
// stands in for the real service in development and tests.
type StubScorer struct{}

var stubClasses = []string{"HER2_0", "HER2_1+", "HER2_2+", "HER2_3+"}

func (StubScorer) Score(_ context.Context, image []byte, _ string, generateHeatmap bool) (*Result, error) {
	h := sha256.Sum256(image)
	idx := int(binary.BigEndian.Uint32(h[:4]) % uint32(len(stubClasses)))
	status := stubClasses[idx]

	probs := make(map[string]float64, len(stubClasses))
	for _, c := range stubClasses {
		probs[c] = 0.04
	}
	probs[status] = 0.88

	result := &Result{
		HER2Status:    status,
		Confidence:    0.88,
		Probabilities: probs,
		ModelVersion:  ModelVersion,
	}
	if generateHeatmap {
		result.Heatmap = []byte("stub-heatmap")
	}
	return result, nil
}

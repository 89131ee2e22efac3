package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for external check failures.
var (
	ErrCheckUnreachable = errors.New("quality check unreachable")
	ErrCheckResponse    = errors.New("quality check returned invalid response")
)

// Check is an optional external quality check.
type Check interface {
	Name() string
	Run(ctx context.Context, text, language string) (CheckResult, error)
}

// CheckResult is the outcome of one external check.
type CheckResult struct {
	Passed bool
	Value  float64
	Detail string
}

// --- Grammar (LanguageTool) ---

// GrammarCheck counts LanguageTool matches and compares the rate per 100 words
// to MaxErrorRate.
type GrammarCheck struct {
	baseURL      string
	maxErrorRate float64
	client       *http.Client
}

func NewGrammarCheck(baseURL string, maxErrorRate float64, timeout time.Duration) *GrammarCheck {
	return &GrammarCheck{
		baseURL:      strings.TrimRight(baseURL, "/"),
		maxErrorRate: maxErrorRate,
		client:       &http.Client{Timeout: timeout},
	}
}

func (c *GrammarCheck) Name() string { return "grammar" }

func (c *GrammarCheck) Run(ctx context.Context, text, language string) (CheckResult, error) {
	if language == "" {
		language = "auto"
	}
	form := url.Values{"text": {text}, "language": {language}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/check", strings.NewReader(form.Encode()))
	if err != nil {
		return CheckResult{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var out struct {
		Matches []struct {
			Message string `json:"message"`
		} `json:"matches"`
	}
	if err := doJSON(c.client, req, &out); err != nil {
		return CheckResult{}, err
	}

	words := WordCount(text)
	rate := 0.0
	if words > 0 {
		rate = float64(len(out.Matches)) / float64(words) * 100
	}
	return CheckResult{
		Passed: rate <= c.maxErrorRate,
		Value:  rate,
		Detail: fmt.Sprintf("grammar error rate %.2f per 100 words (max %.2f)", rate, c.maxErrorRate),
	}, nil
}

// --- Plagiarism ---

// PlagiarismCheck posts text to a uniqueness scoring endpoint that answers
// {"uniqueness": <percent>}.
type PlagiarismCheck struct {
	endpoint      string
	apiKey        string
	minUniqueness float64
	client        *http.Client
}

func NewPlagiarismCheck(endpoint, apiKey string, minUniqueness float64, timeout time.Duration) *PlagiarismCheck {
	return &PlagiarismCheck{endpoint: endpoint, apiKey: apiKey, minUniqueness: minUniqueness, client: &http.Client{Timeout: timeout}}
}

func (c *PlagiarismCheck) Name() string { return "plagiarism" }

func (c *PlagiarismCheck) Run(ctx context.Context, text, language string) (CheckResult, error) {
	req, err := newTextRequest(ctx, c.endpoint, c.apiKey, text, language)
	if err != nil {
		return CheckResult{}, err
	}
	var out struct {
		Uniqueness *float64 `json:"uniqueness"`
	}
	if err := doJSON(c.client, req, &out); err != nil {
		return CheckResult{}, err
	}
	if out.Uniqueness == nil {
		return CheckResult{}, fmt.Errorf("%w: missing uniqueness", ErrCheckResponse)
	}
	u := *out.Uniqueness
	return CheckResult{
		Passed: u >= c.minUniqueness,
		Value:  u,
		Detail: fmt.Sprintf("uniqueness %.1f%% (min %.1f%%)", u, c.minUniqueness),
	}, nil
}

// --- AI detection ---

// AIDetectionCheck posts text to a detector that answers {"ai_probability": <0..1>}.
type AIDetectionCheck struct {
	endpoint       string
	apiKey         string
	maxProbability float64
	client         *http.Client
}

func NewAIDetectionCheck(endpoint, apiKey string, maxProbability float64, timeout time.Duration) *AIDetectionCheck {
	return &AIDetectionCheck{endpoint: endpoint, apiKey: apiKey, maxProbability: maxProbability, client: &http.Client{Timeout: timeout}}
}

func (c *AIDetectionCheck) Name() string { return "ai_detection" }

func (c *AIDetectionCheck) Run(ctx context.Context, text, language string) (CheckResult, error) {
	req, err := newTextRequest(ctx, c.endpoint, c.apiKey, text, language)
	if err != nil {
		return CheckResult{}, err
	}
	var out struct {
		AIProbability *float64 `json:"ai_probability"`
	}
	if err := doJSON(c.client, req, &out); err != nil {
		return CheckResult{}, err
	}
	if out.AIProbability == nil {
		return CheckResult{}, fmt.Errorf("%w: missing ai_probability", ErrCheckResponse)
	}
	p := *out.AIProbability
	return CheckResult{
		Passed: p <= c.maxProbability,
		Value:  p,
		Detail: fmt.Sprintf("ai probability %.2f (max %.2f)", p, c.maxProbability),
	}, nil
}

// --- helpers ---

func newTextRequest(ctx context.Context, endpoint, apiKey, text, language string) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{"text": text, "language": language})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrCheckResponse, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckResponse, err)
	}
	return nil
}

var (
	_ Check = (*GrammarCheck)(nil)
	_ Check = (*PlagiarismCheck)(nil)
	_ Check = (*AIDetectionCheck)(nil)
)

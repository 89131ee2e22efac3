// Package retrieval searches a scholarly index for sources to cite.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// DefaultLimit is the number of sources requested per section.
const DefaultLimit = 8

// Sentinel errors for retrieval failures.
var (
	ErrRetrievalUnreachable = errors.New("retrieval service unreachable")
	ErrRetrievalQuery       = errors.New("retrieval query error")
	ErrRetrievalTimeout     = errors.New("retrieval query timeout")
)

// Searcher returns sources relevant to a free-text query, most relevant first.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.SourceDocument, error)
}

// HTTPClient implements Searcher against the Semantic Scholar Graph API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new retrieval HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

const searchFields = "title,authors,year,venue,externalIds,url,abstract"

// Search over-fetches so that deduplication can still fill limit.
func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]models.SourceDocument, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	fetch := limit * 2
	if fetch > 100 {
		fetch = 100
	}

	params := url.Values{
		"query":  {query},
		"limit":  {strconv.Itoa(fetch)},
		"fields": {searchFields},
	}
	u := fmt.Sprintf("%s/graph/v1/paper/search?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRetrievalQuery, resp.StatusCode)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %v", ErrRetrievalQuery, err)
	}

	sources := Dedupe(parsePapers(searchResp.Data))
	if len(sources) > limit {
		sources = sources[:limit]
	}
	return sources, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRetrievalTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRetrievalTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrRetrievalUnreachable, err)
}

// parsePapers converts API papers into SourceDocuments, skipping untitled entries.
func parsePapers(papers []paper) []models.SourceDocument {
	sources := make([]models.SourceDocument, 0, len(papers))
	for _, p := range papers {
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		authors := make([]string, 0, len(p.Authors))
		for _, a := range p.Authors {
			if a.Name != "" {
				authors = append(authors, a.Name)
			}
		}
		src := models.SourceDocument{
			PaperID:  p.PaperID,
			Title:    strings.TrimSpace(p.Title),
			Authors:  authors,
			Venue:    p.Venue,
			DOI:      p.ExternalIDs.DOI,
			ArXivID:  p.ExternalIDs.ArXiv,
			URL:      p.URL,
			Abstract: p.Abstract,
		}
		if p.Year != nil {
			src.Year = *p.Year
		}
		sources = append(sources, src)
	}
	return sources
}

// --- Semantic Scholar response types ---

type searchResponse struct {
	Total int     `json:"total"`
	Data  []paper `json:"data"`
}

type paper struct {
	PaperID     string      `json:"paperId"`
	Title       string      `json:"title"`
	Authors     []author    `json:"authors"`
	Year        *int        `json:"year"`
	Venue       string      `json:"venue"`
	ExternalIDs externalIDs `json:"externalIds"`
	URL         string      `json:"url"`
	Abstract    string      `json:"abstract"`
}

type author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type externalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}

// Compile-time check that HTTPClient implements Searcher.
var _ Searcher = (*HTTPClient)(nil)

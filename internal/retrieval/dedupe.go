package retrieval

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/paperforge/pkg/models"
)

const maxTitleBytes = 500

var (
	reNonWord    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	reWhitespace = regexp.MustCompile(`\s+`)
	reDOIPrefix  = regexp.MustCompile(`(?i)^(?:https?://(?:dx\.)?doi\.org/|doi:)`)
)

// Dedupe removes sources that share a DOI, arXiv id or title fingerprint with an
// earlier source. Order is preserved. Returns empty slice for empty input (never nil).
func Dedupe(sources []models.SourceDocument) []models.SourceDocument {
	out := make([]models.SourceDocument, 0, len(sources))
	seen := make(map[string]bool)

	for _, src := range sources {
		keys := identityKeys(src)
		dup := false
		for _, k := range keys {
			if seen[k] {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}
		out = append(out, src)
	}
	return out
}

func identityKeys(src models.SourceDocument) []string {
	var keys []string
	if doi := NormalizeDOI(src.DOI); doi != "" {
		keys = append(keys, "doi:"+doi)
	}
	if src.ArXivID != "" {
		keys = append(keys, "arxiv:"+strings.ToLower(src.ArXivID))
	}
	if src.Title != "" {
		keys = append(keys, "title:"+Fingerprint(src.Title))
	} else if src.URL != "" {
		keys = append(keys, "url:"+strings.TrimRight(strings.ToLower(src.URL), "/"))
	}
	return keys
}

// NormalizeDOI strips resolver prefixes and lowercases a DOI.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	doi = reDOIPrefix.ReplaceAllString(doi, "")
	return strings.ToLower(doi)
}

// Fingerprint computes a stable SHA-256 fingerprint for a paper title.
func Fingerprint(title string) string {
	hash := sha256.Sum256([]byte(NormalizeTitle(title)))
	return fmt.Sprintf("%x", hash)
}

// NormalizeTitle lowercases a title, drops punctuation and collapses whitespace.
func NormalizeTitle(title string) string {
	title = strings.ToLower(title)
	title = reNonWord.ReplaceAllString(title, " ")
	title = reWhitespace.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)
	return models.Truncate(title, maxTitleBytes)
}

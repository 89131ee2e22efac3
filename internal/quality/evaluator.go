// Package quality scores generated sections and applies the regeneration policy.
package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/kiranshivaraju/paperforge/internal/citation"
)

const (
	PassThreshold = 70.0

	weightCitation  = 0.30
	weightTone      = 0.25
	weightCoherence = 0.25
	weightWordCount = 0.20

	neutralScore = 75.0
)

// Scores holds the per-axis results, each in [0,100].
type Scores struct {
	CitationDensity float64 `json:"citation_density"`
	AcademicTone    float64 `json:"academic_tone"`
	Coherence       float64 `json:"coherence"`
	WordCount       float64 `json:"word_count"`
}

// Report is the outcome of evaluating one attempt.
type Report struct {
	Overall float64  `json:"overall"`
	Scores  Scores   `json:"scores"`
	Passed  bool     `json:"passed"`
	Issues  []string `json:"issues"`
}

var (
	reParagraphBreak = regexp.MustCompile(`\n\s*\n`)
	reColloquial     = regexp.MustCompile(`(?i)\b(?:a lot of|lots of|kind of|sort of|pretty much|basically|totally|really|super|stuff|things like|gonna|wanna|gotta|you know|okay|ok|awesome|huge)\b`)
)

var contractions = map[string]bool{
	"don't": true, "can't": true, "won't": true, "isn't": true, "aren't": true, "wasn't": true,
	"weren't": true, "doesn't": true, "didn't": true, "haven't": true, "hasn't": true, "hadn't": true,
	"shouldn't": true, "couldn't": true, "wouldn't": true, "mustn't": true, "it's": true, "that's": true,
	"there's": true, "here's": true, "what's": true, "let's": true, "i'm": true, "we're": true,
	"they're": true, "you're": true, "i've": true, "we've": true, "they've": true, "you've": true,
	"i'll": true, "we'll": true, "they'll": true, "you'll": true, "i'd": true, "we'd": true, "they'd": true,
}

var firstPerson = map[string]bool{
	"i": true, "me": true, "my": true, "mine": true, "myself": true,
	"we": true, "us": true, "our": true, "ours": true, "ourselves": true,
}

var transitions = []string{
	"however", "moreover", "furthermore", "therefore", "consequently", "in addition",
	"additionally", "nevertheless", "nonetheless", "thus", "hence", "similarly",
	"in contrast", "conversely", "accordingly", "meanwhile", "subsequently", "notably",
	"specifically", "for example", "for instance", "as a result", "in particular",
	"on the other hand", "likewise", "in summary", "overall", "finally",
}

var reTransition = regexp.MustCompile(`(?i)\b(?:` + strings.Join(transitions, "|") + `)\b`)

// Evaluator scores text on four weighted axes.
// Zero value is ready to use.
type Evaluator struct{}

// Evaluate scores text against targetWords. It never fails: any internal
// error yields the neutral passing report.
func (e Evaluator) Evaluate(text string, targetWords int) (r Report) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in quality evaluation", "error", rec)
			r = NeutralReport(fmt.Errorf("panic: %v", rec))
		}
	}()

	report, err := e.evaluate(text, targetWords)
	if err != nil {
		slog.Warn("quality evaluation failed, using neutral score", "error", err)
		return NeutralReport(err)
	}
	return report
}

// NeutralReport is returned when evaluation cannot run.
func NeutralReport(cause error) Report {
	return Report{
		Overall: neutralScore,
		Scores:  Scores{CitationDensity: neutralScore, AcademicTone: neutralScore, Coherence: neutralScore, WordCount: neutralScore},
		Passed:  true,
		Issues:  []string{fmt.Sprintf("quality evaluation unavailable: %v", cause)},
	}
}

func (e Evaluator) evaluate(text string, targetWords int) (Report, error) {
	if targetWords <= 0 {
		return Report{}, errors.New("target word count must be positive")
	}

	words := tokenize(text)
	var issues []string

	citationScore, issue := scoreCitations(text, len(words))
	issues = appendIssue(issues, issue)
	toneScore, toneIssues := scoreTone(text, words)
	issues = append(issues, toneIssues...)
	coherenceScore, issue := scoreCoherence(text)
	issues = appendIssue(issues, issue)
	wordScore, issue := scoreWordCount(len(words), targetWords)
	issues = appendIssue(issues, issue)

	overall := weightCitation*citationScore +
		weightTone*toneScore +
		weightCoherence*coherenceScore +
		weightWordCount*wordScore
	overall = clamp(math.Round(overall*100) / 100)

	passed := overall >= PassThreshold
	if !passed {
		issues = append(issues, fmt.Sprintf("overall score %.2f below threshold %.0f", overall, PassThreshold))
	}
	if issues == nil {
		issues = []string{}
	}

	return Report{
		Overall: overall,
		Scores: Scores{
			CitationDensity: citationScore,
			AcademicTone:    toneScore,
			Coherence:       coherenceScore,
			WordCount:       wordScore,
		},
		Passed: passed,
		Issues: issues,
	}, nil
}

// scoreCitations expects three citations per 500 words, rounded up.
func scoreCitations(text string, wordCount int) (float64, string) {
	expected := int(math.Ceil(float64(wordCount) / 500 * 3))
	if expected == 0 {
		return 100, ""
	}
	actual := citation.Count(text)
	if actual >= expected {
		return 100, ""
	}
	score := 100 * float64(actual) / float64(expected)
	return score, fmt.Sprintf("citation density low: %d of %d expected citations", actual, expected)
}

func scoreTone(text string, words []string) (float64, []string) {
	var issues []string
	score := 100.0

	nContractions := 0
	nFirstPerson := 0
	for _, w := range words {
		if contractions[w] {
			nContractions++
		}
		if firstPerson[w] {
			nFirstPerson++
		}
	}
	if nContractions > 0 {
		score -= 5 * float64(nContractions)
		issues = append(issues, fmt.Sprintf("%d contractions found", nContractions))
	}

	nColloquial := len(reColloquial.FindAllStringIndex(text, -1))
	if nColloquial > 0 {
		score -= 3 * float64(nColloquial)
		issues = append(issues, fmt.Sprintf("%d colloquial phrases found", nColloquial))
	}

	if len(words) > 0 {
		ratio := float64(nFirstPerson) / float64(len(words))
		if ratio > 0.02 {
			score -= 10
			issues = append(issues, fmt.Sprintf("first-person pronouns at %.1f%% of words exceed 2%%", ratio*100))
		}
	}

	if score < 0 {
		score = 0
	}
	return score, issues
}

// scoreCoherence rewards paragraphs that open or carry a transition.
func scoreCoherence(text string) (float64, string) {
	var paragraphs []string
	for _, p := range reParagraphBreak.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return 50, "no paragraphs found"
	}

	withTransition := 0
	for _, p := range paragraphs {
		if reTransition.MatchString(p) {
			withTransition++
		}
	}
	ratio := float64(withTransition) / float64(len(paragraphs))
	if ratio >= 0.3 {
		return 100, ""
	}
	return 100 * ratio / 0.3, fmt.Sprintf("only %d of %d paragraphs use transitions", withTransition, len(paragraphs))
}

// scoreWordCount gives full marks within 10% of target, falling linearly to
// zero at 50% deviation.
func scoreWordCount(actual, target int) (float64, string) {
	deviation := math.Abs(float64(actual-target)) / float64(target)
	if deviation <= 0.10+1e-9 {
		return 100, ""
	}
	issue := fmt.Sprintf("word count %d deviates %.0f%% from target %d", actual, deviation*100, target)
	if deviation >= 0.50 {
		return 0, issue
	}
	return 100 * (0.50 - deviation) / 0.40, issue
}

// tokenize lowercases words and strips surrounding punctuation, keeping
// inner apostrophes so contractions survive.
func tokenize(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, "’", "'")
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w == "" {
			continue
		}
		words = append(words, strings.ToLower(w))
	}
	return words
}

// WordCount returns the number of words as the evaluator counts them.
func WordCount(text string) int {
	return len(tokenize(text))
}

func appendIssue(issues []string, issue string) []string {
	if issue == "" {
		return issues
	}
	return append(issues, issue)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Package prompt builds the prompts sent to the generation capability.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// Builder constructs generation prompts.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type Builder struct{}

// Prompt is a system/user message pair.
type Prompt struct {
	System string
	User   string
}

// OutlineParams defines inputs for outline generation.
type OutlineParams struct {
	Topic        string
	Language     string
	TargetWords  int
	SectionCount int
}

// SectionParams defines inputs for a single section.
type SectionParams struct {
	Topic    string
	Language string
	Section  models.SectionSpec
	Sources  []models.SourceDocument
	Prior    []*models.Section
}

const academicSystem = "You are an expert academic writer. Write in a formal register, " +
	"avoid contractions and colloquialisms, avoid first-person pronouns, and support claims with citations."

// BuildOutline returns the prompt that asks for a JSON outline.
func (b Builder) BuildOutline(p OutlineParams) Prompt {
	count := p.SectionCount
	if count <= 0 {
		count = defaultSectionCount(p.TargetWords)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create an outline for an academic paper on the topic: %q.\n", p.Topic)
	fmt.Fprintf(&sb, "Language: %s. Total length: about %d words across %d sections.\n", b.language(p.Language), p.TargetWords, count)
	sb.WriteString("Respond with JSON only: an array of objects with fields ")
	sb.WriteString(`"index" (1-based, contiguous), "title", "target_words" and "key_points" (array of strings).`)
	return Prompt{System: academicSystem, User: sb.String()}
}

// BuildSection returns the prompt for one section, grounded in sources and
// in the sections already written.
func (b Builder) BuildSection(p SectionParams) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Paper topic: %s\n", p.Topic)
	fmt.Fprintf(&sb, "Write section %d, %q, in %s, about %d words.\n",
		p.Section.Index, p.Section.Title, b.language(p.Language), p.Section.TargetWords)
	if len(p.Section.KeyPoints) > 0 {
		sb.WriteString("Cover these points:\n")
		for _, kp := range p.Section.KeyPoints {
			fmt.Fprintf(&sb, "- %s\n", kp)
		}
	}

	if len(p.Sources) > 0 {
		sb.WriteString("\nSources (cite as [n] using these numbers):\n")
		for i, s := range p.Sources {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, FormatReference(s))
		}
	} else {
		sb.WriteString("\nNo sources were retrieved; cite well-known literature as (Author, Year).\n")
	}

	if len(p.Prior) > 0 {
		sb.WriteString("\nPreviously written sections, for continuity (do not repeat them):\n")
		for _, sec := range p.Prior {
			fmt.Fprintf(&sb, "\n## %d. %s\n%s\n", sec.Index, sec.Title, sec.Content)
		}
	}

	sb.WriteString("\nSeparate paragraphs with a blank line. Return only the section body without its heading.")
	return Prompt{System: academicSystem, User: sb.String()}
}

// BuildHumanize returns the rewriting prompt. Citation markers must survive verbatim.
func (b Builder) BuildHumanize(text string) Prompt {
	return Prompt{
		System: "You revise academic prose so it reads naturally while keeping its formal register.",
		User: "Rewrite the following text with varied sentence structure and natural flow. " +
			"Keep every citation marker such as [1] or (Smith, 2020) exactly as written. " +
			"Keep paragraph breaks. Return only the rewritten text.\n\n" + text,
	}
}

// BuildSearchQuery returns the retrieval query for a section.
func (b Builder) BuildSearchQuery(topic, sectionTitle string) string {
	topic = strings.TrimSpace(topic)
	sectionTitle = strings.TrimSpace(sectionTitle)
	if sectionTitle == "" {
		return topic
	}
	return topic + " " + sectionTitle
}

// FormatReference renders a source as a one-line reference.
func FormatReference(s models.SourceDocument) string {
	var parts []string
	if len(s.Authors) > 0 {
		authors := s.Authors
		if len(authors) > 3 {
			authors = append(authors[:3:3], "et al.")
		}
		parts = append(parts, strings.Join(authors, ", "))
	}
	if s.Year > 0 {
		parts = append(parts, fmt.Sprintf("(%d)", s.Year))
	}
	parts = append(parts, s.Title+".")
	if s.Venue != "" {
		parts = append(parts, s.Venue+".")
	}
	if s.DOI != "" {
		parts = append(parts, "doi:"+s.DOI)
	} else if s.URL != "" {
		parts = append(parts, s.URL)
	}
	return strings.Join(parts, " ")
}

func (b Builder) language(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}

func defaultSectionCount(targetWords int) int {
	n := targetWords / 600
	if n < 3 {
		return 3
	}
	if n > 12 {
		return 12
	}
	return n
}

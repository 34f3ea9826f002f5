package generation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/kotae/pkg/utils"
)

// Prompt layout shared with the synthesizer. ExtractiveProvider parses it back.
const (
	SourceHeadingFormat = "Source %d:"
	MetadataPrefix      = "Metadata:"
	RelevancePrefix     = "Relevance:"
	QuestionPrefix      = "Question:"
)

const extractiveMaxSentences = 3

var (
	sourceHeading = regexp.MustCompile(`^Source (\d+):$`)
	sentenceRe    = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
)

// ExtractiveProvider answers offline by quoting the source sentences that share the
// most words with the question, each cited as [Source N].
type ExtractiveProvider struct{}

// NewExtractiveProvider creates an ExtractiveProvider.
func NewExtractiveProvider() *ExtractiveProvider {
	return &ExtractiveProvider{}
}

type promptSource struct {
	number int
	text   string
}

type scoredSentence struct {
	source   int
	position int
	text     string
	score    int
}

// Generate selects up to three sentences from the sources in userPrompt.
func (p *ExtractiveProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sources, question := parsePrompt(userPrompt)
	if len(sources) == 0 {
		return &Response{
			Text:  "I don't have enough information in the provided sources to answer this question.",
			Model: ProviderExtractive,
		}, nil
	}

	terms := questionTerms(question)
	var candidates []scoredSentence
	position := 0
	for _, src := range sources {
		for _, s := range sentenceRe.FindAllString(src.text, -1) {
			s = strings.TrimSpace(s)
			if utils.WordCount(s) < 2 {
				continue
			}
			candidates = append(candidates, scoredSentence{
				source: src.number, position: position, text: s, score: overlap(s, terms),
			})
			position++
		}
	}
	if len(candidates) == 0 {
		return &Response{
			Text:  fmt.Sprintf("%s [Source %d]", strings.TrimSpace(sources[0].text), sources[0].number),
			Model: ProviderExtractive,
		}, nil
	}

	picked := pickSentences(candidates)
	parts := make([]string, len(picked))
	for i, s := range picked {
		parts[i] = fmt.Sprintf("%s [Source %d]", s.text, s.source)
	}
	return &Response{Text: strings.Join(parts, " "), Model: ProviderExtractive}, nil
}

// pickSentences keeps the best-scoring sentences in document order. Without any
// overlap the leading sentences are used.
func pickSentences(candidates []scoredSentence) []scoredSentence {
	ranked := append([]scoredSentence(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	n := extractiveMaxSentences
	if n > len(ranked) {
		n = len(ranked)
	}
	if ranked[0].score == 0 {
		return candidates[:n]
	}
	var picked []scoredSentence
	for _, s := range ranked[:n] {
		if s.score > 0 {
			picked = append(picked, s)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].position < picked[j].position })
	return picked
}

// parsePrompt recovers the numbered source texts and the question from a prompt
// built with SourceHeadingFormat and QuestionPrefix.
func parsePrompt(prompt string) ([]promptSource, string) {
	var (
		sources  []promptSource
		current  *promptSource
		body     []string
		question string
	)
	flush := func() {
		if current != nil {
			current.text = strings.TrimSpace(strings.Join(body, "\n"))
			if current.text != "" {
				sources = append(sources, *current)
			}
		}
		current, body = nil, nil
	}
	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := sourceHeading.FindStringSubmatch(trimmed); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			current = &promptSource{number: n}
			continue
		}
		if strings.HasPrefix(trimmed, QuestionPrefix) {
			flush()
			question = strings.TrimSpace(strings.TrimPrefix(trimmed, QuestionPrefix))
			continue
		}
		if current == nil || strings.HasPrefix(trimmed, MetadataPrefix) || strings.HasPrefix(trimmed, RelevancePrefix) {
			continue
		}
		body = append(body, line)
	}
	flush()
	return sources, question
}

func questionTerms(question string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(question), isWordSeparator) {
		if len(w) > 2 && !stopWords[w] {
			terms[w] = struct{}{}
		}
	}
	return terms
}

func overlap(sentence string, terms map[string]struct{}) int {
	seen := make(map[string]bool)
	score := 0
	for _, w := range strings.FieldsFunc(strings.ToLower(sentence), isWordSeparator) {
		if _, ok := terms[w]; ok && !seen[w] {
			seen[w] = true
			score++
		}
	}
	return score
}

func isWordSeparator(r rune) bool {
	return !(r == '-' || r == '\'' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r > 127)
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "were": true,
	"what": true, "which": true, "who": true, "how": true, "why": true, "when": true,
	"where": true, "does": true, "did": true, "can": true, "with": true, "this": true,
	"that": true, "from": true, "about": true, "into": true, "have": true, "has": true,
}

// Name returns the provider name.
func (p *ExtractiveProvider) Name() string { return ProviderExtractive }

// Close is a no-op.
func (p *ExtractiveProvider) Close() error { return nil }

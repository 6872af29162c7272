package llm

import (
	"context"
	"fmt"
	"strings"

	"stockpile/internal/queue"
	"stockpile/internal/services"
)

// PhraseExtractionPrompt instructs the model to turn a transcript into search phrases.
const PhraseExtractionPrompt = `You are a B-roll extractor.

GOAL
Turn the transcript into stock-footage search phrases an editor can paste into a video search.

OUTPUT
Return one JSON string array and nothing else.
Example: ["Berlin Wall falling", "vintage CRT monitor close-up", "1930s Kremlin meeting"]

RULES
- At least 10 phrases.
- 2 to 6 words each.
- Each phrase names a tangible scene, person, object or event. No pure ideas.
- Use simple connectors ("with", "in", "during") to relate entities.
- No duplicates and no name-spamming combos.
- No markdown, no extra keys, no surrounding text.`

// CandidateScoringPrompt instructs the model to rate one search result.
const CandidateScoringPrompt = `You are a B-roll evaluator. Rate how likely a video is to contain
generic, high-quality B-roll footage matching a search phrase.

Prefer cinematic shots, stock footage and documentary clips. Penalise vlogs,
talk shows, tutorials and videos with prominent branding.

Respond with JSON only, in the form {"score": N} where N is an integer from 1 to 10.`

const (
	phraseTemperature = 0.85
	scoreTemperature  = 0.1
)

// ExtractPhrases returns the search phrases suggested for transcript, in model order.
// Phrases are trimmed and deduplicated case-insensitively.
func (c *Client) ExtractPhrases(ctx context.Context, transcript string) ([]string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, services.Wrap(services.ErrValidation, string(queue.StagePhrasesExtracted), "llm phrases", "transcript required", nil)
	}
	content, err := c.complete(ctx, "llm phrases", PhraseExtractionPrompt, "TRANSCRIPT:\n"+transcript, phraseTemperature, false)
	if err != nil {
		return nil, err
	}

	var phrases []string
	if err := DecodeLLMJSON(content, &phrases); err != nil {
		// Some models insist on wrapping the array in an object.
		var wrapped struct {
			Phrases []string `json:"phrases"`
		}
		if wrapErr := DecodeLLMJSON(content, &wrapped); wrapErr != nil || len(wrapped.Phrases) == 0 {
			return nil, services.Wrap(services.ErrTransient, string(queue.StagePhrasesExtracted), "llm phrases", "parse payload", err)
		}
		phrases = wrapped.Phrases
	}
	return NormalizePhrases(phrases), nil
}

// NormalizePhrases trims, collapses whitespace and drops case-insensitive duplicates.
func NormalizePhrases(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		clean := strings.Join(strings.Fields(phrase), " ")
		if clean == "" {
			continue
		}
		key := strings.ToLower(clean)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// ScoreCandidate rates candidate for B-roll potential on a 1-10 scale.
func (c *Client) ScoreCandidate(ctx context.Context, candidate queue.Candidate) (int, error) {
	if strings.TrimSpace(candidate.Phrase) == "" || strings.TrimSpace(candidate.Title) == "" {
		return 0, services.Wrap(services.ErrValidation, string(queue.StageScored), "llm score", "candidate phrase and title required", nil)
	}
	content, err := c.complete(ctx, "llm score", CandidateScoringPrompt, describeCandidate(candidate), scoreTemperature, true)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Score *float64 `json:"score"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return 0, services.Wrap(services.ErrTransient, string(queue.StageScored), "llm score", "parse payload", err)
	}
	if parsed.Score == nil {
		return 0, services.Wrap(services.ErrTransient, string(queue.StageScored), "llm score", "reply has no score", nil)
	}
	score := int(*parsed.Score + 0.5)
	return queue.ClampScore(score), nil
}

func describeCandidate(candidate queue.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SEARCH PHRASE: %q\n", candidate.Phrase)
	fmt.Fprintf(&b, "VIDEO ID: %s\n", candidate.VideoID)
	fmt.Fprintf(&b, "TITLE: %s\n", candidate.Title)
	if candidate.DurationSeconds > 0 {
		fmt.Fprintf(&b, "DURATION: %ds\n", candidate.DurationSeconds)
	}
	if desc := strings.TrimSpace(candidate.Description); desc != "" {
		runes := []rune(desc)
		if len(runes) > 500 {
			desc = string(runes[:500]) + "..."
		}
		fmt.Fprintf(&b, "DESCRIPTION: %s\n", desc)
	}
	return b.String()
}

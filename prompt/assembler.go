package prompt

import (
	"fmt"
	"strings"

	"github.com/studyhall-ai/studyhall/generate"
	"github.com/studyhall-ai/studyhall/rerank"
)

// Variant identifies which prompt shape a query gets.
type Variant string

const (
	VariantGrounded     Variant = "grounded"
	VariantPartial      Variant = "partial_evidence"
	VariantInsufficient Variant = "insufficient_evidence"
)

// The system prompts are fixed per variant and read-only.
const (
	groundedSystem = `You are a patient tutor. Answer the student's question using ONLY the numbered sources provided.
Cite every claim with its source marker, e.g. [1] or [2]. Do not use outside knowledge.
If the sources do not cover part of the question, say so explicitly.`

	partialSystem = `You are a patient tutor. The sources below are split into highly relevant and partially relevant groups.
Answer using ONLY these sources and cite every claim with its marker, e.g. [1].
For claims supported only by partially relevant sources, state your certainty level explicitly.`

	insufficientSystem = `You are a patient tutor. The available study material covers this question poorly.
Acknowledge the limited coverage up front. Use ONLY the sources below, clearly labeled as low-relevance, and never invent content.
Suggest how the student could rephrase or narrow the question.`
)

var userPrompt = MustTemplate("user_prompt", `{{if .Preamble}}{{.Preamble}}

{{end}}{{if .Context}}Sources:

{{.Context}}

{{end}}Question: {{.Question}}`)

// Assembled is the prompt handed to the generator.
type Assembled struct {
	Variant  Variant
	Messages []generate.Message
}

// Assembler renders the context and chooses the prompt variant. It is
// stateless and safe for concurrent use.
type Assembler struct {
	threshold float64
}

// NewAssembler builds an assembler with the given confidence threshold
// (default 0.6) used for both variant selection and the partial-evidence
// split.
func NewAssembler(threshold float64) *Assembler {
	if threshold <= 0 {
		threshold = rerank.DefaultThreshold
	}
	return &Assembler{threshold: threshold}
}

// SelectVariant applies the variant rules: insufficient evidence (or an
// empty ranked list) gets the insufficient variant; a low confidence level
// with both score groups populated gets the partial variant; everything else
// is fully grounded.
func (a *Assembler) SelectVariant(level rerank.Level, insufficient bool, ranked []rerank.RankedResult) Variant {
	if insufficient || level == rerank.LevelInsufficient || len(ranked) == 0 {
		return VariantInsufficient
	}
	if level == rerank.LevelLow {
		high, low := a.split(ranked)
		if len(high) > 0 && len(low) > 0 {
			return VariantPartial
		}
	}
	return VariantGrounded
}

// Assemble builds the system and user messages for the query.
func (a *Assembler) Assemble(question string, ranked []rerank.RankedResult, level rerank.Level, insufficient bool) (Assembled, error) {
	variant := a.SelectVariant(level, insufficient, ranked)

	var system, preamble, context string
	switch variant {
	case VariantInsufficient:
		system = insufficientSystem
		if len(ranked) > 0 {
			preamble = "The following sources matched only weakly and may not answer the question:"
			context = RenderContext(ranked, 1)
		}
	case VariantPartial:
		system = partialSystem
		high, low := a.split(ranked)
		b := NewBuilder()
		b.AddSection("Highly relevant", RenderContext(high, 1))
		b.AddSection("Partially relevant", RenderContext(low, len(high)+1))
		context = b.Build()
	default:
		system = groundedSystem
		context = RenderContext(ranked, 1)
	}

	user, err := userPrompt.Render(map[string]any{
		"Preamble": preamble,
		"Context":  context,
		"Question": question,
	})
	if err != nil {
		return Assembled{}, err
	}

	return Assembled{
		Variant: variant,
		Messages: []generate.Message{
			generate.SystemMessage(system),
			generate.UserMessage(user),
		},
	}, nil
}

func (a *Assembler) split(ranked []rerank.RankedResult) (high, low []rerank.RankedResult) {
	for _, r := range ranked {
		if r.RerankScore >= a.threshold {
			high = append(high, r)
		} else {
			low = append(low, r)
		}
	}
	return high, low
}

// RenderContext renders ranked chunks as numbered citation blocks starting at
// firstID: "[k] Source: <title>" followed by the content and a separator.
func RenderContext(ranked []rerank.RankedResult, firstID int) string {
	var sb strings.Builder
	for i, r := range ranked {
		title := "Unknown source"
		if t, ok := r.Metadata["document_title"].(string); ok && t != "" {
			title = t
		}
		fmt.Fprintf(&sb, "[%d] Source: %s\n%s\n---\n", firstID+i, title, strings.TrimSpace(r.Content))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

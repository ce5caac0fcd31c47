// Package prompt assembles the numbered context block and the final
// system/user prompt pair. Citation numbering is established here and stays
// stable through truncation: after dropping blocks the survivors are
// renumbered densely so the model can only cite what it was shown.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mixmentor/mixmentor/internal/rerank"
)

// DefaultCharBudget approximates an 8k-token context window minus a safety
// margin, at roughly 4 characters per token.
const DefaultCharBudget = 24000

const systemPrompt = `You are a music production mentor. Answer only from the provided context. If the context does not contain sufficient information, say so explicitly. Cite sources inline using [i] matching the numbered blocks.`

// Context is the numbered context block plus its citation source map
type Context struct {
	Text      string
	SourceMap []rerank.RankedChunk // SourceMap[i-1] backs citation [i]
}

// N returns the number of citable blocks.
func (c Context) N() int { return len(c.SourceMap) }

// BuildContext renders ranked chunks into numbered blocks within charBudget
// characters. When the budget would be exceeded, lowest-ranked blocks are
// dropped first and the survivors renumbered from 1 with no gaps.
func BuildContext(chunks []rerank.RankedChunk, charBudget int) Context {
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}

	kept := chunks
	for len(kept) > 0 {
		text := render(kept)
		if len(text) <= charBudget || len(kept) == 1 {
			return Context{Text: text, SourceMap: renumber(kept)}
		}
		kept = kept[:len(kept)-1]
	}
	return Context{}
}

func render(chunks []rerank.RankedChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] (%s, p.%d, score: %.2f)\n%s\n",
			i+1, c.Chunk.SourceName, c.Chunk.PageNumber, c.Score, c.Chunk.Text)
	}
	return b.String()
}

func renumber(chunks []rerank.RankedChunk) []rerank.RankedChunk {
	out := make([]rerank.RankedChunk, len(chunks))
	for i, c := range chunks {
		c.Rank = i + 1
		out[i] = c
	}
	return out
}

// Prompt is the final pair handed to a generation provider
type Prompt struct {
	System string
	User   string
}

// Build composes the user prompt from the optional memory block, the numbered
// context, and the user's original question. The expanded query never reaches
// the model; expansion only widens retrieval.
func Build(memoryBlock string, ctx Context, originalQuery string) Prompt {
	var b strings.Builder
	if memoryBlock != "" {
		b.WriteString(memoryBlock)
		b.WriteString("\n")
	}
	b.WriteString("Context:\n")
	b.WriteString(ctx.Text)
	b.WriteString("\nQuestion: ")
	b.WriteString(originalQuery)
	return Prompt{System: systemPrompt, User: b.String()}
}

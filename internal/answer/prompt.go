package answer

import (
	"fmt"
	"strings"

	"github.com/knowbase/knowbase/internal/models"
	"github.com/knowbase/knowbase/internal/retrieval"
)

const notFoundAnswer = "Not found in the provided documents."

// systemPrompt instructs the model to answer only from the supplied
// context. With no context it must say so instead of guessing.
func systemPrompt(set *retrieval.ContextSet) string {
	var b strings.Builder
	b.WriteString("You are a knowledge-base assistant for an organization. ")
	b.WriteString("Answer the user's question using ONLY the document excerpts below. ")
	b.WriteString("If the excerpts do not contain the answer, reply exactly: ")
	b.WriteString(`"` + notFoundAnswer + `" `)
	b.WriteString("Do not use outside knowledge and do not invent citations.\n\n")

	if set == nil || !set.Found || len(set.Chunks) == 0 {
		b.WriteString("No document excerpts matched this question.\n")
		return b.String()
	}

	titles := make(map[string]string, len(set.Sources))
	for _, s := range set.Sources {
		titles[s.SourceID] = s.Title
	}

	b.WriteString("Document excerpts:\n")
	for i, c := range set.Chunks {
		title := titles[c.Chunk.SourceID]
		if title == "" {
			title = c.Chunk.SourceID
		}
		fmt.Fprintf(&b, "\n[%d] (from %q)\n%s\n", i+1, title, c.Chunk.Text)
	}
	return b.String()
}

// userPrompt folds the recent transcript into the question so the
// model can resolve follow-ups and pronouns.
func userPrompt(history []models.Message, question string) string {
	if len(history) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

const optimizerSystemPrompt = "Rewrite the user's question as a short, self-contained search query " +
	"for a document knowledge base. Keep every named entity. Reply with the rewritten query only, " +
	"no quotes and no explanation."

package prompts

import (
	"fmt"
	"strings"
)

// FragmentContext is one piece of retrieved context offered to the answer
// synthesis prompt.
type FragmentContext struct {
	SourceID    string
	Kind        string // "chunk" or "node"
	HopDistance int    // 0 for vector hits, ≥1 for graph expansion
	Content     string
}

// BuildContextBlock renders fragments as the labeled context section of the
// answer synthesis prompt. Retrieval stores the same rendering on the query
// result so a failed generation carries the exact context the model saw.
func BuildContextBlock(fragments []FragmentContext) string {
	var block strings.Builder
	for _, fragment := range fragments {
		origin := fragment.Kind
		if fragment.HopDistance > 0 {
			origin = fmt.Sprintf("%s, %d hop(s) from a direct hit", fragment.Kind, fragment.HopDistance)
		}
		block.WriteString(fmt.Sprintf("[source:%s] (%s)\n", fragment.SourceID, origin))
		block.WriteString(fragment.Content + "\n\n")
	}
	return block.String()
}

// BuildAnswerSynthesisPrompt creates the prompt for answering a question from
// retrieved context. Fragments are labeled with stable source ids the model
// must cite.
func BuildAnswerSynthesisPrompt(question string, fragments []FragmentContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Knowledge Base Question\n\n")
	prompt.WriteString("Answer the question using ONLY the context fragments below.\n\n")

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(question + "\n\n")

	prompt.WriteString("## Context Fragments\n\n")
	prompt.WriteString(BuildContextBlock(fragments))

	prompt.WriteString("## Instructions\n\n")
	prompt.WriteString("- Answer concisely from the fragments; do not use outside knowledge\n")
	prompt.WriteString("- Cite every claim with its fragment marker, e.g. [source:chunk-12]\n")
	prompt.WriteString("- Combine fragments when the answer spans several of them\n")
	prompt.WriteString("- If the fragments do not contain the answer, say so explicitly\n")

	return prompt.String()
}

// BuildAnswerSynthesisSystemMessage returns the system message for the LLM.
func BuildAnswerSynthesisSystemMessage() string {
	return `You are a precise question-answering assistant over a curated knowledge base. You answer only from the provided context and cite the source of every claim.`
}

package rag

import (
	"strings"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// ComposePrompt builds the final chat prompt from the agent configuration,
// the retrieved context chunks (already in descending similarity order), and
// the user query.
//
// Layout:
//
//	Guardrails (must follow):
//	<guardrails>
//
//	<base prompt>
//
//	--- Relevant Information ---
//	<chunk 1>
//
//	<chunk 2>
//	…
//	User Query: <query>
//
// The guardrail block appears only when the agent has guardrails; the
// context section is omitted entirely when no chunk cleared the threshold.
func ComposePrompt(agent domain.Agent, chunks []domain.ScoredChunk, query string) string {
	var sb strings.Builder
	if agent.Guardrails != "" {
		sb.WriteString("Guardrails (must follow):\n")
		sb.WriteString(agent.Guardrails)
		sb.WriteString("\n\n")
	}
	sb.WriteString(agent.BasePrompt)
	sb.WriteString("\n\n")
	if len(chunks) > 0 {
		sb.WriteString("--- Relevant Information ---\n")
		for _, c := range chunks {
			sb.WriteString(c.Content)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("User Query: ")
	sb.WriteString(query)
	return sb.String()
}

// ComposePlainPrompt is the no-RAG variant used by the analysis and
// extraction tasks: guardrails and base prompt, then the query.
func ComposePlainPrompt(agent domain.Agent, query string) string {
	return ComposePrompt(agent, nil, query)
}

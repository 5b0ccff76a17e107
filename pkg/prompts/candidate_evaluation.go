package prompts

import (
	"fmt"
	"strings"
)

// CandidateContext provides candidate details for LLM evaluation.
type CandidateContext struct {
	FromType               string
	ToType                 string
	PatternKind            string
	FromProperty           string
	ToProperty             string
	HeuristicScore         float64
	ValueOverlap           float64
	ProvenanceCooccurrence float64
	NameMatch              float64
	SuggestedName          string
	SamplePairs            []SamplePairContext
}

// SamplePairContext is one concrete entity pair whose property values matched
// the candidate's pattern.
type SamplePairContext struct {
	FromEntityID string
	FromValue    string
	ToEntityID   string
	ToValue      string
}

// VocabularyEntry is a curated relation type offered to the evaluator as
// preferred naming.
type VocabularyEntry struct {
	Name        string
	FromType    string
	ToType      string
	Description string
}

// BuildCandidateEvaluationPrompt creates the prompt for evaluating one
// relationship candidate. It includes the candidate's heuristic evidence, the
// sampled matching pairs, the seed vocabulary, and the JSON response format.
func BuildCandidateEvaluationPrompt(candidate CandidateContext, vocabulary []VocabularyEntry) string {
	var prompt strings.Builder

	prompt.WriteString("# Relationship Candidate Evaluation\n\n")
	prompt.WriteString("Judge whether the following candidate is a real semantic relationship between two entity types in a knowledge graph, or a coincidental overlap of property values.\n\n")

	prompt.WriteString("## Candidate\n\n")
	prompt.WriteString(fmt.Sprintf("%s.%s → %s.%s\n\n", candidate.FromType, candidate.FromProperty, candidate.ToType, candidate.ToProperty))
	prompt.WriteString(fmt.Sprintf("- **Match pattern**: %s\n", candidate.PatternKind))
	prompt.WriteString(fmt.Sprintf("- **Heuristic score**: %.2f\n", candidate.HeuristicScore))
	prompt.WriteString(fmt.Sprintf("- **Value overlap**: %.1f%% of sampled %s.%s values occur among %s.%s values\n",
		candidate.ValueOverlap*100, candidate.FromType, candidate.FromProperty, candidate.ToType, candidate.ToProperty))
	prompt.WriteString(fmt.Sprintf("- **Provenance co-occurrence**: %.1f%% (how often both types arrive in the same ingestion batches)\n",
		candidate.ProvenanceCooccurrence*100))
	prompt.WriteString(fmt.Sprintf("- **Naming-convention signal**: %.2f\n", candidate.NameMatch))
	if candidate.SuggestedName != "" {
		prompt.WriteString(fmt.Sprintf("- **Heuristic name suggestion**: %s\n", candidate.SuggestedName))
	}
	prompt.WriteString("\n")

	if len(candidate.SamplePairs) > 0 {
		prompt.WriteString("## Sample Matching Pairs\n\n")
		prompt.WriteString(fmt.Sprintf("| # | %s entity | %s value | %s entity | %s value |\n",
			candidate.FromType, candidate.FromProperty, candidate.ToType, candidate.ToProperty))
		prompt.WriteString("|---|---|---|---|---|\n")
		for i, pair := range candidate.SamplePairs {
			prompt.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
				i+1, pair.FromEntityID, pair.FromValue, pair.ToEntityID, pair.ToValue))
		}
		prompt.WriteString("\n")
	}

	if len(vocabulary) > 0 {
		prompt.WriteString("## Preferred Relation Vocabulary\n\n")
		prompt.WriteString("Curated relation types already in use. Prefer one of these names when it fits the candidate; otherwise propose a new name in the same style.\n\n")
		for _, entry := range vocabulary {
			line := fmt.Sprintf("- `%s` (%s → %s)", entry.Name, entry.FromType, entry.ToType)
			if entry.Description != "" {
				line += ": " + entry.Description
			}
			prompt.WriteString(line + "\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Evaluation Guidelines\n\n")
	prompt.WriteString("**Signals of a real relationship**:\n")
	prompt.WriteString("- The source property is identifier-like for the target (names, ids, codes)\n")
	prompt.WriteString("- Property naming points at the target type (e.g., owner_team_name → Team)\n")
	prompt.WriteString("- Sample pairs read as meaningful domain statements\n")
	prompt.WriteString("- Values are specific enough that overlap is unlikely by chance\n\n")

	prompt.WriteString("**Signals of coincidence**:\n")
	prompt.WriteString("- Generic values (booleans, statuses, small integers, dates) overlapping\n")
	prompt.WriteString("- Properties from unrelated domains that happen to share formats\n")
	prompt.WriteString("- Substring matches that cross word boundaries meaninglessly\n\n")

	prompt.WriteString("Score independently of the heuristic: the heuristic evidence is input, not a prior to anchor on.\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with:\n")
	prompt.WriteString("- `score`: 0.0-1.0 (your confidence this is a real relationship)\n")
	prompt.WriteString("- `rationale`: Brief explanation (1-2 sentences)\n")
	prompt.WriteString("- `proposed_name`: snake_case verb phrase for the relation, read as \"<from> <name> <to>\" (e.g., owned_by, escalates_to, deployed_in)\n\n")

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "score": 0.92,
  "rationale": "owner_team_name values are exact Team names and the property name declares ownership. Sample pairs read as clear ownership statements.",
  "proposed_name": "owned_by"
}
`)
	prompt.WriteString("```\n\n")

	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildCandidateEvaluationSystemMessage returns the system message for the LLM.
func BuildCandidateEvaluationSystemMessage() string {
	return `You are a knowledge-graph ontology expert. Your task is to judge whether a proposed relationship between two entity types is semantically real, and to name it well.`
}

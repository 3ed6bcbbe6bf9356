package orchestrator

import (
	"fmt"
	"strings"
)

// systemContext frames every model call. The wording is part of the
// experiment design and must stay stable across stages.
const systemContext = "you are assisting in an academic experiment. the user is a sales employee at brightwave solutions. your outputs must be short (≤80 words), strictly about which customers to contact first using only the provided dataset. justify briefly using concrete fields (e.g., ‘last sale=1 mo’, ‘ytd=€400k’, ‘freq=8/yr’). avoid unrelated topics. ensure fairness; do not rely on stereotypes. be transparent and cite which fields informed your choice."

// targetQuery is the intent every incoming question is gated against.
const targetQuery = "Based on the data, determine which customers have the most potential and should be contacted first."

// RejectionMessage is the user-facing explanation for a gated question.
const RejectionMessage = "Not able to reply to your question, please only ask questions related to the case."

func buildPrompt(role, instruction, body string) string {
	return fmt.Sprintf("%s\nRole: %s.\nInstruction: %s\n\n%s", systemContext, role, instruction, body)
}

func validatePrompt(question string, threshold float64) string {
	body := fmt.Sprintf(`You are the prompt gatekeeper. Determine if the user’s query is semantically similar to the target. The language is allowed to be different. `+"\n"+
		`Target query: "%s"`+"\n"+
		`User query: "%s"`+"\n"+
		`Return json {"similar":true|false,"score":number,"reason":"..."}. Similar if cosine ≥ %.2f. Reply with JSON only.`,
		targetQuery, question, threshold)
	return buildPrompt(
		"prompt gatekeeper",
		"determine semantic similarity to the provided target question. respond in JSON only.",
		body,
	)
}

func recommendPrompt(question, datasetCSV string) string {
	body := fmt.Sprintf("Dataset (CSV):\n%s\n\nUser request: %s\n\nRespond ONLY in valid JSON with keys \"summary\" (≤80 words text), \"bullets\" (2-4 concise bullet reasons referencing exact fields and values) and \"fields\" (the dataset column names you used).",
		datasetCSV, question)
	return buildPrompt(
		"data-driven sales recommender",
		"select the top 3 customers to contact first using the dataset. emphasise briefly the data used.",
		body,
	)
}

func reviewPrompt(in ReviewInput) string {
	body := fmt.Sprintf("User request: %s\n\nAgent recommendation summary: %s\nAgent bullets:\n%s\nAgent cited fields: %s\n\nRespond ONLY in valid JSON with keys \"overall\" (short critique, ≤80 words), \"bullets\" (2-4 concise critique points), \"replacementCustomer\" (a customer to add, or empty), \"customerToReplace\" (the customer it replaces, or empty) and \"fields\" (the dataset column names your critique relies on). Propose at most one substitution.",
		in.Question, in.Summary, bulletLines(in.Bullets), strings.Join(in.CitedFields, ", "))
	return buildPrompt(
		"sales controller",
		"critique the recommendation against the dataset and optionally propose one substitution.",
		body,
	)
}

func revisePrompt(in ReviseInput) string {
	var substitution string
	if in.ReplacementCustomer != "" || in.CustomerToReplace != "" {
		substitution = fmt.Sprintf("\nProposed substitution: replace %q with %q.", in.CustomerToReplace, in.ReplacementCustomer)
	}
	body := fmt.Sprintf("User request: %s\n\nOriginal recommendation summary: %s\nOriginal bullets:\n%s\n\nController feedback:\n%s\nController cited fields: %s%s\n\nProduce a revised recommendation that addresses the feedback. Respond ONLY in valid JSON with keys \"summary\" (≤80 words text), \"bullets\" (2-4 concise bullet reasons referencing exact fields and values) and \"fields\" (the dataset column names you used).",
		in.Question, in.Summary, bulletLines(in.Bullets),
		bulletLines(in.ControllerBullets), strings.Join(in.ControllerFields, ", "), substitution)
	return buildPrompt(
		"data-driven sales recommender",
		"revise the recommendation so it addresses the controller feedback.",
		body,
	)
}

func bulletLines(bullets []string) string {
	if len(bullets) == 0 {
		return "- (none)"
	}
	lines := make([]string, len(bullets))
	for i, b := range bullets {
		lines[i] = "- " + b
	}
	return strings.Join(lines, "\n")
}

// Package prompt holds the prompt templates driving the conversation
// pipeline: the character card, the workflow router, memory analysis,
// summarization and knowledge search.
package prompt

import (
	"fmt"
	"strings"
)

// CharacterCard builds the system prompt for response generation. The
// rolling summary, the character's current activity and recalled memories
// are injected when present.
func CharacterCard(summary, currentActivity, memoryContext string) string {
	var b strings.Builder

	b.WriteString(`You are Ava, a warm and knowledgeable real-estate assistant chatting over WhatsApp.
You help people find homes and investment properties, answer questions about
zones, projects and developers, and keep the conversation natural and personal.

Rules:
- Reply in the user's language.
- Keep answers short and conversational; this is a chat, not an email.
- Never mention that you are an AI, that you use tools, or where your data comes from.
- Do not use markdown or special formatting, just plain text.`)

	if currentActivity != "" {
		b.WriteString("\n\nRight now you are: ")
		b.WriteString(currentActivity)
	}

	if memoryContext != "" {
		b.WriteString("\n\nThings you remember about this user:\n")
		b.WriteString(memoryContext)
	}

	if summary != "" {
		b.WriteString("\n\nSummary of the conversation so far:\n")
		b.WriteString(summary)
	}

	return b.String()
}

// Router builds the workflow classification prompt. The model must answer
// with a JSON object {"workflow": "..."} choosing between conversation,
// audio and info_point.
func Router() string {
	return `Classify the user's latest request into exactly one workflow.

Workflows:
- "conversation": a normal text reply is enough.
- "audio": the user explicitly asked to hear a voice note or audio reply.
- "info_point": the user asked to receive the detail card of ONE specific
  project or unit they already identified (by name or id).

Respond only with JSON in this exact format:
{"workflow": "conversation" | "audio" | "info_point",
 "info_point": "project" | "unit" | null,
 "info_point_params": {"project_id": number | null, "unit_id": string | null, "name": string | null}}

No extra text.`
}

// MemoryAnalysis builds the prompt deciding whether a user message contains
// a fact worth remembering long-term.
func MemoryAnalysis(message string) string {
	return fmt.Sprintf(`Analyze this message for important personal facts worth remembering
long-term about the user (preferences, budget, family, location, plans):

"%s"

Respond only with JSON:
{"is_important": true | false, "formatted_memory": "short third-person fact" | null}`, message)
}

// SummaryNew asks for a fresh conversation summary.
func SummaryNew() string {
	return "Create a summary of the conversation above between Ava and the user. " +
		"The summary must be a short description of the conversation so far, " +
		"but that captures all the relevant information shared between Ava and the user:"
}

// SummaryExtend asks for an extension of an existing summary.
func SummaryExtend(existing string) string {
	return fmt.Sprintf("This is summary of the conversation to date between Ava and the user: %s\n\n"+
		"Extend the summary by taking into account the new messages above:", existing)
}

// SearchDecision builds the single-step prompt that decides whether a
// knowledge lookup is needed and, when it is, emits search parameters.
func SearchDecision(query string, recentContext []string, memoryContext string) string {
	return fmt.Sprintf(`Analyze this user query: "%s"

Recent conversation context:
%s

Information in memory:
%s

Does this query require looking up real estate information? If not, respond only with: "NO_SEARCH_NEEDED".

If YES, generate a JSON with exactly this format:
`+"```json"+`
{
    "nameQuery": string | null,
    "semanticQuery": string | null,
    "searchIn": string[],
    "params": {
        "bedrooms": number | null,
        "minPrice": number | null,
        "maxPrice": number | null,
        "propertyType": string | null
    },
    "flexibleSearch": boolean,
    "includeExamples": boolean
}
`+"```"+`

searchIn must contain at least one of: "zones", "projects", "developers", "pois".
Only include parameters that are explicitly mentioned or implied in the user's query.
Respond only with "NO_SEARCH_NEEDED" or the valid, parseable JSON, without additional explanations.`,
		query, strings.Join(recentContext, "\n"), memoryContext)
}

// SearchFormat builds the prompt that turns raw search results into
// conversational text.
func SearchFormat(resultsJSON, originalQuery string) string {
	return fmt.Sprintf(`I need you to convert these real estate search results into clear and concise text for the user.

The original query was:
%s

API Results:
`+"```json"+`
%s
`+"```"+`

Please format these results in natural language, highlighting:
1. Total number of results found
2. For each zone or region, mention the number of relevant projects and units
3. If there are property examples, mention 2-3 notable ones with their main features
4. If flexible search was used, briefly explain what criteria were made flexible

The format should be conversational and friendly, avoiding unnecessary technical terms.
Don't mention internally that this data comes from an API.
Don't use markdown or special formatting, just plain text.`, originalQuery, resultsJSON)
}

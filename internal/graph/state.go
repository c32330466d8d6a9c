// Package graph runs the conversation pipeline: memory extraction, workflow
// routing, context and memory injection, knowledge search, response
// generation and summarization.
package graph

import "companion/internal/llm"

// Workflow names the response modes the router can choose.
const (
	WorkflowConversation = "conversation"
	WorkflowAudio        = "audio"
	WorkflowInfoPoint    = "info_point"
)

// State carries a single turn through the pipeline nodes.
type State struct {
	ThreadID string
	Input    string

	// Accumulated by the nodes.
	Messages        []llm.Message
	Summary         string
	Workflow        string
	CurrentActivity string
	MemoryContext   string
	SearchContext   string

	InfoPointType   string
	InfoPointParams map[string]interface{}

	Response    string
	AudioBuffer []byte
}

// Result is what the webhook handler consumes after a pipeline run.
type Result struct {
	Workflow string
	Text     string
	Audio    []byte

	InfoPointType   string
	InfoPointParams map[string]interface{}
}

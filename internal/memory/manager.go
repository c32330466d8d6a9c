// Package memory implements long-term memory: extracting durable facts from
// user messages and recalling them by semantic similarity.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"companion/internal/embedding"
	"companion/internal/llm"
	"companion/internal/logging"
	"companion/internal/prompt"
	"companion/internal/store"
)

// Manager extracts, stores and recalls long-term memories for a thread.
type Manager struct {
	chat   llm.ChatClient
	engine embedding.Engine
	store  *store.Store

	topK          int
	minSimilarity float64
}

// NewManager wires the memory manager.
func NewManager(chat llm.ChatClient, engine embedding.Engine, st *store.Store, topK int, minSimilarity float64) *Manager {
	if topK <= 0 {
		topK = 5
	}
	return &Manager{
		chat:          chat,
		engine:        engine,
		store:         st,
		topK:          topK,
		minSimilarity: minSimilarity,
	}
}

type analysisResult struct {
	IsImportant     bool   `json:"is_important"`
	FormattedMemory string `json:"formatted_memory"`
}

// ExtractAndStore analyzes a user message and, when it contains a fact worth
// keeping, embeds and persists it. Extraction failures are logged and
// swallowed: memory is best-effort and must never block a reply.
func (m *Manager) ExtractAndStore(ctx context.Context, threadID, message string) {
	if strings.TrimSpace(message) == "" {
		return
	}

	response, err := m.chat.Complete(ctx, prompt.MemoryAnalysis(message))
	if err != nil {
		logging.Memory("Memory analysis failed: %v", err)
		return
	}

	var analysis analysisResult
	if err := llm.ExtractJSON(response, &analysis); err != nil {
		logging.MemoryDebug("Unparseable memory analysis, skipping: %v", err)
		return
	}
	if !analysis.IsImportant || strings.TrimSpace(analysis.FormattedMemory) == "" {
		return
	}

	content := strings.TrimSpace(analysis.FormattedMemory)

	exists, err := m.store.HasMemory(threadID, content)
	if err != nil {
		logging.Memory("Memory dedupe check failed: %v", err)
		return
	}
	if exists {
		logging.MemoryDebug("Memory already stored, skipping: %s", content)
		return
	}

	vector, err := m.engine.Embed(ctx, content)
	if err != nil {
		logging.Memory("Memory embedding failed: %v", err)
		return
	}

	metadata := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.store.StoreMemory(threadID, content, vector, metadata); err != nil {
		logging.Memory("Memory store failed: %v", err)
		return
	}

	logging.Memory("Stored memory for thread %s: %s", threadID, content)
}

// RelevantMemories embeds the query and returns the thread's most similar
// stored memories.
func (m *Manager) RelevantMemories(ctx context.Context, threadID, query string) ([]store.MemoryEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vector, err := m.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return m.store.SearchMemories(threadID, vector, m.topK, m.minSimilarity)
}

// FormatForPrompt renders recalled memories as a bullet list for the
// character card.
func FormatForPrompt(entries []store.MemoryEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(e.Content)
	}
	return b.String()
}

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"companion/internal/embedding"
	"companion/internal/logging"
)

// MemoryEntry is a long-term memory row.
type MemoryEntry struct {
	ID         int64
	ThreadID   string
	Content    string
	Metadata   map[string]interface{}
	Similarity float64
	CreatedAt  time.Time
}

// StoreMemory persists a memory with its embedding. Duplicate content for
// the same thread is silently skipped.
func (s *Store) StoreMemory(threadID, content string, vector []float32, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	metaJSON, _ := json.Marshal(metadata)

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO memories (thread_id, content, embedding, metadata)
		 VALUES (?, ?, ?, ?)`,
		threadID, content, string(embeddingJSON), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	logging.MemoryDebug("Stored memory thread=%s len=%d", threadID, len(content))
	return nil
}

// HasMemory reports whether exact content is already stored for a thread.
func (s *Store) HasMemory(threadID, content string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memories WHERE thread_id = ? AND content = ?",
		threadID, content,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check memory: %w", err)
	}
	return n > 0, nil
}

// SearchMemories returns the topK memories of a thread most similar to the
// query embedding, filtered by a minimum cosine similarity.
func (s *Store) SearchMemories(threadID string, query []float32, topK int, minSimilarity float64) ([]MemoryEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchMemories")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.Query(
		`SELECT id, thread_id, content, embedding, metadata, created_at
		 FROM memories WHERE thread_id = ? AND embedding IS NOT NULL`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	var vectors [][]float32
	for rows.Next() {
		var entry MemoryEntry
		var embeddingJSON, metaJSON string

		if err := rows.Scan(&entry.ID, &entry.ThreadID, &entry.Content, &embeddingJSON, &metaJSON, &entry.CreatedAt); err != nil {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			continue
		}

		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		}

		entries = append(entries, entry)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ranked, err := embedding.FindTopK(query, vectors, topK)
	if err != nil {
		return nil, err
	}

	var results []MemoryEntry
	for _, r := range ranked {
		if r.Similarity < minSimilarity {
			continue
		}
		entry := entries[r.Index]
		entry.Similarity = r.Similarity
		results = append(results, entry)
	}

	logging.MemoryDebug("SearchMemories thread=%s returned %d/%d candidates", threadID, len(results), len(entries))
	return results, nil
}

// MemoryCount returns how many memories are stored for a thread.
func (s *Store) MemoryCount(threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memories WHERE thread_id = ?", threadID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return n, nil
}

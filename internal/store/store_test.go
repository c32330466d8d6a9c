package store

import (
	"testing"
)

func TestAppendAndRecentMessages(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	threadID := "15550001111"

	seq, err := s.AppendMessage(threadID, "user", "hello")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("Expected seq 1, got %d", seq)
	}

	seq, err = s.AppendMessage(threadID, "assistant", "hi there")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if seq != 2 {
		t.Errorf("Expected seq 2, got %d", seq)
	}

	msgs, err := s.RecentMessages(threadID, 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello" {
		t.Errorf("Unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("Unexpected second message: %+v", msgs[1])
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	for i := 0; i < 10; i++ {
		if _, err := s.AppendMessage("t1", "user", "msg"); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	msgs, err := s.RecentMessages("t1", 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected window of 3, got %d", len(msgs))
	}
	// Window keeps newest messages, in chronological order.
	if msgs[0].Seq != 8 || msgs[2].Seq != 10 {
		t.Errorf("Unexpected window: %d..%d", msgs[0].Seq, msgs[2].Seq)
	}
}

func TestThreadsAreIsolated(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	s.AppendMessage("alice", "user", "from alice")
	s.AppendMessage("bob", "user", "from bob")

	msgs, err := s.RecentMessages("alice", 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "from alice" {
		t.Errorf("Thread isolation broken: %+v", msgs)
	}

	n, err := s.MessageCount("bob")
	if err != nil {
		t.Fatalf("MessageCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 message for bob, got %d", n)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	// Missing thread returns empty summary, not an error.
	summary, err := s.Summary("nobody")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary != "" {
		t.Errorf("Expected empty summary, got %q", summary)
	}

	if err := s.SetSummary("t1", "user likes coffee"); err != nil {
		t.Fatalf("SetSummary failed: %v", err)
	}
	summary, err = s.Summary("t1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary != "user likes coffee" {
		t.Errorf("Unexpected summary: %q", summary)
	}

	// Replacement, not append.
	if err := s.SetSummary("t1", "updated"); err != nil {
		t.Fatalf("SetSummary failed: %v", err)
	}
	summary, _ = s.Summary("t1")
	if summary != "updated" {
		t.Errorf("Expected replaced summary, got %q", summary)
	}
}

func TestTrimMessages(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	for i := 0; i < 12; i++ {
		s.AppendMessage("t1", "user", "msg")
	}

	if err := s.TrimMessages("t1", 5); err != nil {
		t.Fatalf("TrimMessages failed: %v", err)
	}

	n, _ := s.MessageCount("t1")
	if n != 5 {
		t.Errorf("Expected 5 messages after trim, got %d", n)
	}

	msgs, _ := s.RecentMessages("t1", 100)
	if msgs[0].Seq != 8 {
		t.Errorf("Expected oldest surviving seq 8, got %d", msgs[0].Seq)
	}

	// New messages continue the sequence after a trim.
	seq, err := s.AppendMessage("t1", "user", "after trim")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if seq != 13 {
		t.Errorf("Expected seq 13 after trim, got %d", seq)
	}
}

func TestStoreAndSearchMemories(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	threadID := "t1"

	memories := []struct {
		content string
		vec     []float32
	}{
		{"likes espresso", []float32{1, 0, 0}},
		{"has a dog named Rex", []float32{0, 1, 0}},
		{"works as a architect", []float32{0.9, 0.1, 0}},
	}
	for _, m := range memories {
		if err := s.StoreMemory(threadID, m.content, m.vec, map[string]interface{}{"source": "test"}); err != nil {
			t.Fatalf("StoreMemory failed: %v", err)
		}
	}

	results, err := s.SearchMemories(threadID, []float32{1, 0, 0}, 2, 0.5)
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Content != "likes espresso" {
		t.Errorf("Expected best match first, got %q", results[0].Content)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("Results not sorted by similarity")
	}
	if results[0].Metadata["source"] != "test" {
		t.Errorf("Metadata lost: %+v", results[0].Metadata)
	}
}

func TestSearchMemoriesThreadScoped(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	s.StoreMemory("alice", "alice fact", []float32{1, 0}, nil)
	s.StoreMemory("bob", "bob fact", []float32{1, 0}, nil)

	results, err := s.SearchMemories("alice", []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(results) != 1 || results[0].Content != "alice fact" {
		t.Errorf("Memory recall leaked across threads: %+v", results)
	}
}

func TestDuplicateMemoryIgnored(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	vec := []float32{1, 0}
	s.StoreMemory("t1", "same fact", vec, nil)
	s.StoreMemory("t1", "same fact", vec, nil)

	n, err := s.MemoryCount("t1")
	if err != nil {
		t.Fatalf("MemoryCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected duplicate to be ignored, got %d rows", n)
	}

	ok, err := s.HasMemory("t1", "same fact")
	if err != nil {
		t.Fatalf("HasMemory failed: %v", err)
	}
	if !ok {
		t.Error("HasMemory should report existing content")
	}
}

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"companion/internal/llm"
	"companion/internal/logging"
	"companion/internal/memory"
	"companion/internal/prompt"
	"companion/internal/schedule"
	"companion/internal/search"
	"companion/internal/store"
)

// Searcher is the knowledge lookup surface the pipeline depends on.
type Searcher interface {
	Search(ctx context.Context, params search.Params) (json.RawMessage, error)
}

// Synthesizer renders reply text as audio for voice-note responses.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Options tunes the pipeline's memory and routing behavior.
type Options struct {
	SummaryTrigger   int // summarize once a thread exceeds this many messages
	KeepAfterSummary int // messages retained after a summary pass
	RouterWindow     int // messages the router examines
	SearchEnabled    bool
}

// Pipeline orchestrates one conversation turn end to end.
type Pipeline struct {
	chat     llm.ChatClient
	store    *store.Store
	memory   *memory.Manager
	searcher Searcher
	tts      Synthesizer
	schedule *schedule.Generator
	opts     Options
}

// NewPipeline wires the pipeline. searcher and tts may be nil, disabling
// knowledge search and audio replies respectively.
func NewPipeline(chat llm.ChatClient, st *store.Store, mem *memory.Manager, searcher Searcher, tts Synthesizer, sched *schedule.Generator, opts Options) *Pipeline {
	if opts.SummaryTrigger <= 0 {
		opts.SummaryTrigger = 20
	}
	if opts.KeepAfterSummary <= 0 {
		opts.KeepAfterSummary = 5
	}
	if opts.RouterWindow <= 0 {
		opts.RouterWindow = 3
	}
	if sched == nil {
		sched = schedule.NewGenerator(nil)
	}
	return &Pipeline{
		chat:     chat,
		store:    st,
		memory:   mem,
		searcher: searcher,
		tts:      tts,
		schedule: sched,
		opts:     opts,
	}
}

// Run executes the pipeline for one inbound message and returns the reply.
func (p *Pipeline) Run(ctx context.Context, threadID, input string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Run")
	defer timer.StopWithThreshold(30 * time.Second)

	state := &State{ThreadID: threadID, Input: input}

	if err := p.loadHistory(state); err != nil {
		return nil, err
	}
	if _, err := p.store.AppendMessage(threadID, "user", input); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	state.Messages = append(state.Messages, llm.Message{Role: "user", Content: input})

	p.extractMemory(ctx, state)
	p.route(ctx, state)
	p.injectContext(state)
	p.injectMemories(ctx, state)

	if state.Workflow == WorkflowInfoPoint {
		// The detail card is delivered out-of-band; nothing to generate.
		return &Result{
			Workflow:        WorkflowInfoPoint,
			InfoPointType:   state.InfoPointType,
			InfoPointParams: state.InfoPointParams,
		}, nil
	}

	p.runSearch(ctx, state)

	if err := p.generate(ctx, state); err != nil {
		return nil, err
	}

	if state.Workflow == WorkflowAudio {
		p.synthesize(ctx, state)
	}

	if _, err := p.store.AppendMessage(threadID, "assistant", state.Response); err != nil {
		logging.Pipeline("Failed to persist assistant message: %v", err)
	}

	p.maybeSummarize(ctx, state)

	return &Result{
		Workflow: state.Workflow,
		Text:     state.Response,
		Audio:    state.AudioBuffer,
	}, nil
}

// loadHistory pulls the stored conversation window and rolling summary.
func (p *Pipeline) loadHistory(state *State) error {
	msgs, err := p.store.RecentMessages(state.ThreadID, 50)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	for _, m := range msgs {
		state.Messages = append(state.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	summary, err := p.store.Summary(state.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to load summary: %w", err)
	}
	state.Summary = summary
	return nil
}

// extractMemory runs best-effort long-term memory extraction on the input.
func (p *Pipeline) extractMemory(ctx context.Context, state *State) {
	if p.memory == nil {
		return
	}
	p.memory.ExtractAndStore(ctx, state.ThreadID, state.Input)
}

type routerDecision struct {
	Workflow        string                 `json:"workflow"`
	InfoPoint       string                 `json:"info_point"`
	InfoPointParams map[string]interface{} `json:"info_point_params"`
}

// route classifies the turn into a workflow. Any failure falls back to a
// normal conversation reply.
func (p *Pipeline) route(ctx context.Context, state *State) {
	window := state.Messages
	if len(window) > p.opts.RouterWindow {
		window = window[len(window)-p.opts.RouterWindow:]
	}

	response, err := p.chat.CompleteMessages(ctx, prompt.Router(), window)
	if err != nil {
		logging.Pipeline("Router call failed, defaulting to conversation: %v", err)
		state.Workflow = WorkflowConversation
		return
	}

	var decision routerDecision
	if err := llm.ExtractJSON(response, &decision); err != nil {
		logging.PipelineDebug("Unparseable router decision, defaulting to conversation: %v", err)
		state.Workflow = WorkflowConversation
		return
	}

	switch decision.Workflow {
	case WorkflowConversation, WorkflowAudio:
		state.Workflow = decision.Workflow
	case WorkflowInfoPoint:
		if decision.InfoPoint == "" || len(decision.InfoPointParams) == 0 {
			state.Workflow = WorkflowConversation
			return
		}
		state.Workflow = WorkflowInfoPoint
		state.InfoPointType = decision.InfoPoint
		state.InfoPointParams = decision.InfoPointParams
	default:
		state.Workflow = WorkflowConversation
	}

	logging.PipelineDebug("Routed thread=%s workflow=%s", state.ThreadID, state.Workflow)
}

// injectContext resolves the character's current activity.
func (p *Pipeline) injectContext(state *State) {
	state.CurrentActivity = p.schedule.CurrentActivity()
}

// injectMemories recalls long-term memories relevant to the input.
func (p *Pipeline) injectMemories(ctx context.Context, state *State) {
	if p.memory == nil {
		return
	}
	entries, err := p.memory.RelevantMemories(ctx, state.ThreadID, state.Input)
	if err != nil {
		logging.Pipeline("Memory recall failed: %v", err)
		return
	}
	state.MemoryContext = memory.FormatForPrompt(entries)
}

// runSearch decides whether a knowledge lookup is needed and, when it is,
// folds the formatted results into the generation context. Every failure
// degrades to answering without search.
func (p *Pipeline) runSearch(ctx context.Context, state *State) {
	if p.searcher == nil || !p.opts.SearchEnabled {
		return
	}

	var recent []string
	window := state.Messages
	if len(window) > p.opts.RouterWindow {
		window = window[len(window)-p.opts.RouterWindow:]
	}
	for _, m := range window {
		recent = append(recent, m.Content)
	}

	decision, err := p.chat.Complete(ctx, prompt.SearchDecision(state.Input, recent, state.MemoryContext))
	if err != nil {
		logging.Pipeline("Search decision failed, answering without search: %v", err)
		return
	}
	if strings.Contains(decision, "NO_SEARCH_NEEDED") {
		return
	}

	var params search.Params
	if err := llm.ExtractJSON(decision, &params); err != nil {
		logging.PipelineDebug("Unparseable search params, answering without search: %v", err)
		return
	}

	raw, err := p.searcher.Search(ctx, params)
	if err != nil {
		logging.Pipeline("Knowledge search failed, answering without search: %v", err)
		return
	}

	formatted, err := p.chat.Complete(ctx, prompt.SearchFormat(string(raw), params.Query()))
	if err != nil {
		logging.Pipeline("Search formatting failed, answering without search: %v", err)
		return
	}
	state.SearchContext = formatted
}

// generate produces the reply text from the character card and history.
func (p *Pipeline) generate(ctx context.Context, state *State) error {
	systemPrompt := prompt.CharacterCard(state.Summary, state.CurrentActivity, state.MemoryContext)
	if state.SearchContext != "" {
		systemPrompt += "\n\nRelevant information you just looked up:\n" + state.SearchContext
	}

	response, err := p.chat.CompleteMessages(ctx, systemPrompt, state.Messages)
	if err != nil {
		return fmt.Errorf("failed to generate response: %w", err)
	}
	state.Response = strings.TrimSpace(response)
	return nil
}

// synthesize renders the reply as audio. On failure the text reply stands.
func (p *Pipeline) synthesize(ctx context.Context, state *State) {
	if p.tts == nil {
		logging.Pipeline("Audio requested but synthesis not configured, sending text")
		state.Workflow = WorkflowConversation
		return
	}

	audio, err := p.tts.Synthesize(ctx, state.Response)
	if err != nil {
		logging.Pipeline("Synthesis failed, sending text: %v", err)
		state.Workflow = WorkflowConversation
		return
	}
	state.AudioBuffer = audio
}

// maybeSummarize folds older turns into the rolling summary once the thread
// grows past the trigger, then trims the stored window.
func (p *Pipeline) maybeSummarize(ctx context.Context, state *State) {
	count, err := p.store.MessageCount(state.ThreadID)
	if err != nil {
		logging.Pipeline("Message count failed, skipping summarization: %v", err)
		return
	}
	if count <= p.opts.SummaryTrigger {
		return
	}

	summaryPrompt := prompt.SummaryNew()
	if state.Summary != "" {
		summaryPrompt = prompt.SummaryExtend(state.Summary)
	}

	msgs := append([]llm.Message{}, state.Messages...)
	msgs = append(msgs, llm.Message{Role: "assistant", Content: state.Response})
	msgs = append(msgs, llm.Message{Role: "user", Content: summaryPrompt})

	summary, err := p.chat.CompleteMessages(ctx, "", msgs)
	if err != nil {
		logging.Pipeline("Summarization failed: %v", err)
		return
	}

	if err := p.store.SetSummary(state.ThreadID, strings.TrimSpace(summary)); err != nil {
		logging.Pipeline("Failed to store summary: %v", err)
		return
	}
	if err := p.store.TrimMessages(state.ThreadID, p.opts.KeepAfterSummary); err != nil {
		logging.Pipeline("Failed to trim messages: %v", err)
		return
	}

	logging.Pipeline("Summarized thread=%s count=%d keep=%d", state.ThreadID, count, p.opts.KeepAfterSummary)
}

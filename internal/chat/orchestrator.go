// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the chat turn orchestrator: the state machine
// between the UI, the completion client, and the history store.
//
// The orchestrator owns the in-memory message log, the model catalog and
// current selection, the account balance string, the loading flag, and a
// single-slot categorized error state. UI code subscribes for change
// notifications and reads state through accessors; all mutation goes
// through the orchestrator's operations.
package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/GoldenGlimmer/aichat/internal/analytics"
	"github.com/GoldenGlimmer/aichat/internal/client"
	"github.com/GoldenGlimmer/aichat/internal/history"
	"github.com/GoldenGlimmer/aichat/internal/util"
)

// ErrBusy is returned by SendMessage while another send is in flight.
var ErrBusy = errors.New("a message is already being sent")

// =============================================================================
// TYPES
// =============================================================================

// Role is a chat message author role.
type Role string

// Message author roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation log. Immutable once constructed.
type Message struct {
	ID        string
	Role      Role
	Content   string
	ModelID   string
	Tokens    *int
	Cost      *float64
	CreatedAt time.Time
}

// CompletionClient is the slice of the API client the orchestrator uses.
type CompletionClient interface {
	Complete(ctx context.Context, req client.CompletionRequest) (*client.Completion, error)
	ListModels(ctx context.Context) ([]client.Model, error)
	Balance(ctx context.Context) (string, error)
}

// HistoryStore persists the conversation across sessions.
type HistoryStore interface {
	SaveMessage(ctx context.Context, rec history.Record) error
	Messages(ctx context.Context) ([]history.Record, error)
	Clear(ctx context.Context) error
}

// Settings exposes the configuration the orchestrator reads, plus
// persistence of the chosen model.
type Settings interface {
	APIKey() string
	Model() string
	MaxTokens() int
	Temperature() float64
	SetModel(id string) error
}

// ExpenseRefresher is poked after every costed turn.
type ExpenseRefresher interface {
	Refresh(ctx context.Context) error
}

// AnalyticsSink accumulates per-turn usage counters.
type AnalyticsSink interface {
	Record(turn analytics.Turn)
	Reset()
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives the send-message lifecycle and owns all chat state.
// State is guarded by a mutex; notifications run outside it.
type Orchestrator struct {
	api      CompletionClient
	store    HistoryStore
	settings Settings
	expenses ExpenseRefresher
	tracker  AnalyticsSink

	mu           sync.Mutex
	messages     []Message
	models       []client.Model
	currentModel string
	balance      string
	loading      bool
	errState     ErrorState

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// New wires an orchestrator from its collaborators. expenses and tracker
// may be nil; the corresponding side effects are then skipped.
func New(api CompletionClient, store HistoryStore, settings Settings, expenses ExpenseRefresher, tracker AnalyticsSink) *Orchestrator {
	return &Orchestrator{
		api:      api,
		store:    store,
		settings: settings,
		expenses: expenses,
		tracker:  tracker,
		subs:     make(map[int]func()),
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

// Initialize loads the model catalog, the account balance, and the stored
// history. Without an API key it is a silent no-op: an unconfigured first
// run is expected, not an error. Each load step is independently
// fault-tolerant; a failure is logged and the remaining steps still run.
func (o *Orchestrator) Initialize(ctx context.Context) {
	if strings.TrimSpace(o.settings.APIKey()) == "" {
		log.Printf("chat: no API key configured, skipping initialization")
		return
	}

	o.loadModels(ctx)
	o.loadBalance(ctx)
	o.loadHistory(ctx)
	o.notify()
}

// Reinitialize re-runs initialization, typically after a settings change.
func (o *Orchestrator) Reinitialize(ctx context.Context) {
	o.Initialize(ctx)
}

// loadModels fetches the catalog, sorts it by display name, and picks the
// persisted model when present, otherwise the first model in sorted order.
func (o *Orchestrator) loadModels(ctx context.Context) {
	models, err := o.api.ListModels(ctx)
	if err != nil {
		log.Printf("chat: model catalog load failed: %v", err)
		return
	}

	sort.Slice(models, func(i, j int) bool {
		a, b := models[i].DisplayName(), models[j].DisplayName()
		if a == b {
			return models[i].ID < models[j].ID
		}
		return a < b
	})

	selected := ""
	if len(models) > 0 {
		selected = models[0].ID
		persisted := o.settings.Model()
		for _, m := range models {
			if m.ID == persisted {
				selected = persisted
				break
			}
		}
	}

	o.mu.Lock()
	o.models = models
	o.currentModel = selected
	o.mu.Unlock()
}

func (o *Orchestrator) loadBalance(ctx context.Context) {
	balance, err := o.api.Balance(ctx)
	if err != nil {
		log.Printf("chat: balance load failed: %v", err)
		return
	}
	o.mu.Lock()
	o.balance = balance
	o.mu.Unlock()
}

func (o *Orchestrator) loadHistory(ctx context.Context) {
	records, err := o.store.Messages(ctx)
	if err != nil {
		log.Printf("chat: history replay failed: %v", err)
		return
	}

	messages := make([]Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, Message{
			ID:        rec.ID,
			Role:      Role(rec.Role),
			Content:   rec.Content,
			ModelID:   rec.ModelID,
			Tokens:    rec.Tokens,
			Cost:      rec.Cost,
			CreatedAt: rec.CreatedAt,
		})
	}

	o.mu.Lock()
	o.messages = messages
	o.mu.Unlock()
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage runs one chat turn with analytics tracking enabled.
func (o *Orchestrator) SendMessage(ctx context.Context, content string) error {
	return o.Send(ctx, content, true)
}

// Send runs one chat turn: append the user message, call the completion
// API, reconcile the response into an assistant message, persist both, and
// fan out the side effects (expense refresh, balance reload, analytics).
//
// Blank content and a missing model selection are silent no-ops. A second
// send while one is in flight is rejected with ErrBusy. Transport and
// parsing failures never become conversation turns; they surface through
// the ErrorState slot only, and Send still returns nil.
func (o *Orchestrator) Send(ctx context.Context, content string, trackAnalytics bool) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	o.mu.Lock()
	if o.currentModel == "" {
		o.mu.Unlock()
		return nil
	}
	if o.loading {
		o.mu.Unlock()
		return ErrBusy
	}
	o.loading = true
	modelID := o.currentModel
	o.mu.Unlock()
	o.notify()

	defer func() {
		o.mu.Lock()
		o.loading = false
		o.mu.Unlock()
		o.notify()
	}()

	content = util.NormalizeText(content)

	userMsg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		ModelID:   modelID,
		CreatedAt: time.Now(),
	}
	o.appendMessage(userMsg)
	o.persist(ctx, userMsg)

	start := time.Now()

	// Pre-flight: the key may have been cleared since startup. The user
	// message stays in the log; only the network call is skipped.
	if strings.TrimSpace(o.settings.APIKey()) == "" {
		o.setError(ErrorAPIKeyMissing)
		return nil
	}

	resp, err := o.api.Complete(ctx, client.CompletionRequest{
		Model:       modelID,
		Messages:    o.promptMessages(),
		MaxTokens:   o.settings.MaxTokens(),
		Temperature: o.settings.Temperature(),
	})
	if err != nil {
		log.Printf("chat: completion failed: %v", err)
		o.setError(Classify(err))
		o.track(trackAnalytics, modelID, start, content, 0, 0, true)
		return nil
	}

	assistantMsg, err := o.reconcile(resp, modelID)
	if err != nil {
		log.Printf("chat: malformed completion response: %v", err)
		o.setError(ErrorServer)
		o.track(trackAnalytics, modelID, start, content, 0, 0, true)
		return nil
	}

	o.appendMessage(assistantMsg)
	o.persist(ctx, assistantMsg)
	o.setError(ErrorNone)

	var tokens int
	var cost float64
	if assistantMsg.Tokens != nil {
		tokens = *assistantMsg.Tokens
	}
	if assistantMsg.Cost != nil {
		cost = *assistantMsg.Cost
	}

	if cost > 0 && o.expenses != nil {
		go func() {
			if err := o.expenses.Refresh(context.Background()); err != nil {
				log.Printf("chat: expense refresh failed: %v", err)
			}
		}()
	}

	o.loadBalance(ctx)
	o.track(trackAnalytics, modelID, start, content, tokens, cost, false)
	return nil
}

// promptMessages converts the in-memory log to the wire message list.
func (o *Orchestrator) promptMessages() []client.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	prompt := make([]client.Message, 0, len(o.messages))
	for _, m := range o.messages {
		if m.Role == RoleAssistant {
			prompt = append(prompt, client.NewAssistantMessage(m.Content))
		} else {
			prompt = append(prompt, client.NewUserMessage(m.Content))
		}
	}
	return prompt
}

func (o *Orchestrator) appendMessage(msg Message) {
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	o.notify()
}

// persist mirrors one message into the history store. The in-memory log is
// authoritative for the UI; a persistence failure is logged, not surfaced.
func (o *Orchestrator) persist(ctx context.Context, msg Message) {
	err := o.store.SaveMessage(ctx, history.Record{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		ModelID:   msg.ModelID,
		Tokens:    msg.Tokens,
		Cost:      msg.Cost,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		log.Printf("chat: failed to persist message %s: %v", msg.ID, err)
	}
}

func (o *Orchestrator) track(enabled bool, modelID string, start time.Time, content string, tokens int, cost float64, failed bool) {
	if !enabled || o.tracker == nil {
		return
	}
	o.tracker.Record(analytics.Turn{
		ModelID:     modelID,
		Duration:    time.Since(start),
		PromptChars: utf8.RuneCountInString(content),
		Tokens:      tokens,
		Cost:        cost,
		Failed:      failed,
	})
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SetCurrentModel updates the selection and persists it. The id is not
// validated against the catalog; an unknown id simply fails on the next
// send.
func (o *Orchestrator) SetCurrentModel(id string) {
	o.mu.Lock()
	o.currentModel = id
	o.mu.Unlock()

	if err := o.settings.SetModel(id); err != nil {
		log.Printf("chat: failed to persist model selection: %v", err)
	}
	o.notify()
}

// ClearHistory empties the in-memory log, the history store, and the
// analytics counters. The clears are best-effort sequential: a failure in
// one does not skip the others. One notification fires at the end.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	o.mu.Lock()
	o.messages = nil
	o.mu.Unlock()

	var storeErr error
	if storeErr = o.store.Clear(ctx); storeErr != nil {
		log.Printf("chat: failed to clear history store: %v", storeErr)
	}
	if o.tracker != nil {
		o.tracker.Reset()
	}

	o.notify()
	return storeErr
}

// =============================================================================
// STATE ACCESS
// =============================================================================

// Messages returns a copy of the conversation log.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Models returns a copy of the cached model catalog.
func (o *Orchestrator) Models() []client.Model {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]client.Model, len(o.models))
	copy(out, o.models)
	return out
}

// CurrentModel returns the selected model id, empty until models load.
func (o *Orchestrator) CurrentModel() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentModel
}

// Balance returns the last loaded account balance display string.
func (o *Orchestrator) Balance() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.balance
}

// Loading reports whether a send is in flight.
func (o *Orchestrator) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// LastError returns the active error state.
func (o *Orchestrator) LastError() ErrorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errState
}

// setError transitions the error slot. A transition to the current value
// is suppressed entirely, including its notification.
func (o *Orchestrator) setError(state ErrorState) {
	o.mu.Lock()
	if o.errState == state {
		o.mu.Unlock()
		return
	}
	o.errState = state
	o.mu.Unlock()
	o.notify()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers a callback invoked after every state change. The
// returned function removes the subscription.
func (o *Orchestrator) Subscribe(fn func()) func() {
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
	}
}

func (o *Orchestrator) notify() {
	o.subMu.Lock()
	callbacks := make([]func(), 0, len(o.subs))
	for _, fn := range o.subs {
		callbacks = append(callbacks, fn)
	}
	o.subMu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

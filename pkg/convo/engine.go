package convo

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/storyloom/pkg/storage"
)

// Engine is the single entry point callers use to work with a
// conversation thread. It owns exactly one active thread at a time (set
// by Initialize) and mirrors every mutation to the storage adapter.
//
// The engine assumes a single logical writer. The mutex only makes
// concurrent readers (stats, views, the websocket fan-out) safe; it does
// not turn the engine into a multi-writer structure.
type Engine struct {
	mu     sync.RWMutex
	store  storage.Store
	thread *Thread
	config Config

	history []string // previously active branch ids, most recent last
	forward []string // branches left via GoBack, most recent last

	subMu sync.Mutex
	subs  []chan string
}

// New creates an engine backed by the given storage adapter. The engine
// starts uninitialized; every thread-scoped operation fails until
// Initialize is called.
func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// Initialize loads the thread stored under cfg.ThreadKey, or constructs a
// fresh one with a single main branch when none exists. Re-initializing
// replaces the previously active thread; it never merges.
func (e *Engine) Initialize(cfg Config) (ThreadSnapshot, error) {
	if cfg.ThreadKey == "" {
		if cfg.Topic != "" {
			cfg.ThreadKey = "thread:" + cfg.Topic
		} else {
			cfg.ThreadKey = "thread:default"
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.config = cfg
	e.history = nil
	e.forward = nil

	if data, ok, err := e.store.Get(cfg.ThreadKey); err != nil {
		slog.Warn("loading thread from storage", "key", cfg.ThreadKey, "error", err)
	} else if ok {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			slog.Warn("stored thread is unreadable, starting fresh", "key", cfg.ThreadKey, "error", err)
		} else {
			e.thread = rehydrateThread(snap.Thread)
			e.history = e.thread.knownBranches(snap.Navigation.BranchHistory)
			slog.Info("thread loaded", "key", cfg.ThreadKey, "messages", len(e.thread.Messages), "branches", len(e.thread.branches))
			e.notify()
			return snapshotThread(e.thread), nil
		}
	}

	e.thread = newThread(cfg.Topic)
	e.persistLocked()
	e.notify()
	slog.Info("thread created", "key", cfg.ThreadKey, "topic", cfg.Topic)
	return snapshotThread(e.thread), nil
}

// SendMessage appends a message to the global log, attributed to the
// currently active branch.
func (e *Engine) SendMessage(content string, role Role) (Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil {
		return Message{}, ErrNotInitialized
	}
	msg := e.thread.append(role, content, e.thread.CurrentBranchID)
	e.persistLocked()
	e.notify()
	return msg, nil
}

// CreateBranch registers a new branch forking at forkPointMessageID. When
// the fork point is empty it defaults to the last message of the active
// branch's current view ("fork from here"). Creating a branch does not
// switch to it.
func (e *Engine) CreateBranch(name, forkPointMessageID string) (Branch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil {
		return Branch{}, ErrNoActiveThread
	}
	if forkPointMessageID == "" {
		view := e.thread.viewFor(e.thread.activeBranch())
		if len(view) > 0 {
			forkPointMessageID = view[len(view)-1].ID
		}
	} else if _, ok := e.thread.message(forkPointMessageID); !ok {
		return Branch{}, fmt.Errorf("fork point %s: %w", forkPointMessageID, ErrMessageNotFound)
	}

	b := &Branch{
		ID:                 uuid.NewString(),
		Name:               name,
		ForkPointMessageID: forkPointMessageID,
		CreatedAt:          time.Now(),
	}
	e.thread.putBranch(b)
	e.thread.Metadata.LastModified = b.CreatedAt
	e.persistLocked()
	e.notify()
	return *b, nil
}

// SwitchToBranch makes the target branch active, recording the previous
// branch for back-navigation. Switching to the already active branch is a
// no-op: it does not push a redundant history entry.
func (e *Engine) SwitchToBranch(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil {
		return ErrNotInitialized
	}
	if _, ok := e.thread.branch(id); !ok {
		return fmt.Errorf("switch to %s: %w", id, ErrBranchNotFound)
	}
	if id == e.thread.CurrentBranchID {
		return nil
	}
	e.history = append(e.history, e.thread.CurrentBranchID)
	e.forward = nil
	e.thread.setActive(id)
	e.thread.Metadata.LastModified = time.Now()
	e.persistLocked()
	e.notify()
	return nil
}

// GoBack returns to the most recently visited branch. Reports whether a
// navigation happened.
func (e *Engine) GoBack() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil || len(e.history) == 0 {
		return false
	}
	prev := e.history[len(e.history)-1]
	e.history = e.history[:len(e.history)-1]
	e.forward = append(e.forward, e.thread.CurrentBranchID)
	e.thread.setActive(prev)
	e.persistLocked()
	e.notify()
	return true
}

// GoForward re-enters the branch most recently left via GoBack.
func (e *Engine) GoForward() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil || len(e.forward) == 0 {
		return false
	}
	next := e.forward[len(e.forward)-1]
	e.forward = e.forward[:len(e.forward)-1]
	e.history = append(e.history, e.thread.CurrentBranchID)
	e.thread.setActive(next)
	e.persistLocked()
	e.notify()
	return true
}

// RenameBranch updates a branch's user-facing label.
func (e *Engine) RenameBranch(id, newName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil {
		return ErrNotInitialized
	}
	b, ok := e.thread.branch(id)
	if !ok {
		return fmt.Errorf("rename %s: %w", id, ErrBranchNotFound)
	}
	b.Name = newName
	e.thread.Metadata.LastModified = time.Now()
	e.persistLocked()
	e.notify()
	return nil
}

// DeleteBranch removes a branch and every message it owns. Deleting main
// is always refused. If the deleted branch was active the engine switches
// back to main; the deleted id is also scrubbed from navigation history.
func (e *Engine) DeleteBranch(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil || id == MainBranchID {
		return ErrCannotDeleteMainBranch
	}
	if _, ok := e.thread.branch(id); !ok {
		return fmt.Errorf("delete %s: %w", id, ErrBranchNotFound)
	}

	wasActive := e.thread.CurrentBranchID == id
	e.thread.removeBranch(id)
	e.history = scrub(e.history, id)
	e.forward = scrub(e.forward, id)
	if wasActive {
		e.thread.setActive(MainBranchID)
	}
	e.persistLocked()
	e.notify()
	return nil
}

// CurrentBranchMessages reconstructs the ordered view for the active
// branch. It is a pure read: safe to call any number of times.
func (e *Engine) CurrentBranchMessages() []Message {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.thread == nil {
		return nil
	}
	return e.thread.viewFor(e.thread.activeBranch())
}

// AvailableBranches lists all branches in creation order, main first.
func (e *Engine) AvailableBranches() []Branch {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.thread == nil {
		return nil
	}
	return e.thread.orderedBranches()
}

// Navigation reports the derived navigation state.
func (e *Engine) Navigation() Navigation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.navigationLocked()
}

func (e *Engine) navigationLocked() Navigation {
	nav := Navigation{}
	if e.thread == nil {
		return nav
	}
	nav.CurrentBranchID = e.thread.CurrentBranchID
	nav.AvailableBranches = append([]string(nil), e.thread.branchOrder...)
	nav.BranchHistory = append([]string(nil), e.history...)
	nav.CanNavigateBack = len(e.history) > 0
	nav.CanNavigateForward = len(e.forward) > 0
	return nav
}

// Stats summarizes the active thread across all branches. With no active
// thread (or an empty log) LastActivity is nil.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var st Stats
	if e.thread == nil {
		return st
	}
	st.TotalMessages = len(e.thread.Messages)
	st.BranchCount = len(e.thread.branches)
	for _, m := range e.thread.Messages {
		switch m.Role {
		case RoleUser:
			st.UserMessages++
		case RoleAssistant:
			st.AssistantMessages++
		case RoleSystem:
			st.SystemMessages++
		}
	}
	if n := len(e.thread.Messages); n > 0 {
		last := e.thread.Messages[n-1].CreatedAt
		st.LastActivity = &last
	}
	return st
}

// Clear resets the active thread to the fresh-thread state, keeping the
// same thread id and storage key.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.thread == nil {
		return ErrNotInitialized
	}
	id := e.thread.ID
	e.thread = newThread(e.config.Topic)
	e.thread.ID = id
	e.history = nil
	e.forward = nil
	e.persistLocked()
	e.notify()
	return nil
}

// Export produces a deep, JSON-safe snapshot of the full engine state, or
// nil when no thread is active.
func (e *Engine) Export() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.thread == nil {
		return nil
	}
	return &Snapshot{
		Thread:     snapshotThread(e.thread),
		Navigation: e.navigationLocked(),
		Config:     e.config,
	}
}

// Import replaces the active thread wholesale from an exported snapshot.
// The payload must minimally carry a thread object with messages and
// branches; anything else is rejected without touching existing state.
func (e *Engine) Import(data []byte) error {
	var snap importSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConversationData, err)
	}
	if snap.Thread == nil || snap.Thread.Messages == nil || snap.Thread.Branches == nil {
		return ErrInvalidConversationData
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.thread = rehydrateThread(ThreadSnapshot{
		ID:              snap.Thread.ID,
		Messages:        snap.Thread.Messages,
		CurrentBranchID: snap.Thread.CurrentBranchID,
		Branches:        snap.Thread.Branches,
		Metadata:        snap.Thread.Metadata,
	})
	if _, ok := e.thread.branch(MainBranchID); !ok {
		// Imported data may predate the permanent-main guarantee; restore it.
		e.thread.putBranch(&Branch{ID: MainBranchID, Name: "Main", CreatedAt: time.Now()})
		e.thread.setActive(e.thread.CurrentBranchID)
	}
	e.history = nil
	e.forward = nil
	if snap.Navigation != nil {
		// Payloads may reference branches they do not carry; a ghost id in
		// history would make GoBack activate a branch that does not exist.
		e.history = e.thread.knownBranches(snap.Navigation.BranchHistory)
	}
	if snap.Config != nil && snap.Config.ThreadKey != "" {
		e.config = *snap.Config
	}
	e.persistLocked()
	e.notify()
	return nil
}

// Subscribe returns a channel that emits the thread key after every
// successful mutation. Slow consumers miss events rather than block the
// engine.
func (e *Engine) Subscribe() <-chan string {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	ch := make(chan string, 16)
	e.subs = append(e.subs, ch)
	return ch
}

func (e *Engine) notify() {
	key := e.config.ThreadKey
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- key:
		default:
		}
	}
}

// persistLocked mirrors the in-memory state to storage. Failures are
// logged and swallowed: the in-memory thread stays authoritative for the
// rest of the session.
func (e *Engine) persistLocked() {
	snap := Snapshot{
		Thread:     snapshotThread(e.thread),
		Navigation: e.navigationLocked(),
		Config:     e.config,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("serializing thread", "key", e.config.ThreadKey, "error", err)
		return
	}
	if err := e.store.Set(e.config.ThreadKey, data); err != nil {
		slog.Error("persisting thread", "key", e.config.ThreadKey, "error", err)
	}
}

func scrub(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

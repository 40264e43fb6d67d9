package convo

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the JSON-safe export of an engine's full state. Dates
// serialize as RFC 3339 strings; the branch map serializes as an array of
// [id, branch] pairs since JSON has no native map type with ordering.
type Snapshot struct {
	Thread     ThreadSnapshot `json:"thread"`
	Navigation Navigation     `json:"navigation"`
	Config     Config         `json:"config"`
}

// ThreadSnapshot is the wire form of a Thread.
type ThreadSnapshot struct {
	ID              string        `json:"id"`
	Messages        []Message     `json:"messages"`
	CurrentBranchID string        `json:"currentBranchId"`
	Branches        BranchEntries `json:"branches"`
	Metadata        Metadata      `json:"metadata"`
}

// BranchEntries is the entries-array form of the branch index.
type BranchEntries []BranchEntry

// BranchEntry is one [id, branch] pair.
type BranchEntry struct {
	ID     string
	Branch Branch
}

func (e BranchEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.ID, e.Branch})
}

func (e *BranchEntry) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("branch entry: want [id, branch] pair, got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &e.ID); err != nil {
		return fmt.Errorf("branch entry id: %w", err)
	}
	if err := json.Unmarshal(parts[1], &e.Branch); err != nil {
		return fmt.Errorf("branch entry value: %w", err)
	}
	return nil
}

// snapshotThread flattens a thread into its wire form.
func snapshotThread(t *Thread) ThreadSnapshot {
	entries := make(BranchEntries, 0, len(t.branchOrder))
	for _, b := range t.orderedBranches() {
		entries = append(entries, BranchEntry{ID: b.ID, Branch: b})
	}
	msgs := make([]Message, len(t.Messages))
	copy(msgs, t.Messages)
	return ThreadSnapshot{
		ID:              t.ID,
		Messages:        msgs,
		CurrentBranchID: t.CurrentBranchID,
		Branches:        entries,
		Metadata:        t.Metadata,
	}
}

// rehydrateThread rebuilds the in-memory thread from its wire form,
// reconstructing the branch lookup map and the message id index.
func rehydrateThread(ts ThreadSnapshot) *Thread {
	t := &Thread{
		ID:              ts.ID,
		Messages:        append([]Message(nil), ts.Messages...),
		CurrentBranchID: ts.CurrentBranchID,
		Metadata:        ts.Metadata,
		branches:        make(map[string]*Branch, len(ts.Branches)),
	}
	for _, e := range ts.Branches {
		b := e.Branch
		if b.ID == "" {
			b.ID = e.ID
		}
		t.putBranch(&b)
	}
	t.reindex()
	if _, ok := t.branches[t.CurrentBranchID]; !ok {
		t.CurrentBranchID = MainBranchID
	}
	t.setActive(t.CurrentBranchID)
	return t
}

// importSnapshot is the lenient decode target for Import: pointers and
// raw slices distinguish absent fields from empty ones so the minimal
// shape check (thread with messages and branches) can be enforced.
type importSnapshot struct {
	Thread *struct {
		ID              string        `json:"id"`
		Messages        []Message     `json:"messages"`
		CurrentBranchID string        `json:"currentBranchId"`
		Branches        BranchEntries `json:"branches"`
		Metadata        Metadata      `json:"metadata"`
	} `json:"thread"`
	Navigation *Navigation `json:"navigation"`
	Config     *Config     `json:"config"`
}

package convo

import (
	"time"

	"github.com/google/uuid"
)

// Thread is the aggregate persisted unit: the append-only global message
// log plus the branch index built on top of it. All mutation goes through
// the Engine; Thread methods assume the caller holds the engine lock.
type Thread struct {
	ID              string
	Messages        []Message // global log, ascending SequenceIndex
	CurrentBranchID string
	Metadata        Metadata

	branches    map[string]*Branch
	branchOrder []string       // ids in creation order, main first
	byID        map[string]int // message id -> position in Messages
}

// newThread constructs a fresh thread with an empty log and a single
// active main branch.
func newThread(topic string) *Thread {
	now := time.Now()
	t := &Thread{
		ID:              uuid.NewString(),
		CurrentBranchID: MainBranchID,
		Metadata:        Metadata{Created: now, LastModified: now, Topic: topic},
		branches:        make(map[string]*Branch),
		byID:            make(map[string]int),
	}
	t.putBranch(&Branch{
		ID:        MainBranchID,
		Name:      "Main",
		IsActive:  true,
		CreatedAt: now,
	})
	return t
}

func (t *Thread) putBranch(b *Branch) {
	t.branches[b.ID] = b
	t.branchOrder = append(t.branchOrder, b.ID)
}

func (t *Thread) branch(id string) (*Branch, bool) {
	b, ok := t.branches[id]
	return b, ok
}

func (t *Thread) activeBranch() *Branch {
	return t.branches[t.CurrentBranchID]
}

// append adds a message to the global log and records it as owned by the
// given branch. Sequence indexes are dense at append time; after a branch
// deletion the surviving indexes may have gaps but never change value.
func (t *Thread) append(role Role, content, branchID string) Message {
	seq := 0
	if n := len(t.Messages); n > 0 {
		seq = t.Messages[n-1].SequenceIndex + 1
	}
	msg := Message{
		ID:            uuid.NewString(),
		Role:          role,
		Content:       content,
		CreatedAt:     time.Now(),
		BranchID:      branchID,
		SequenceIndex: seq,
	}
	t.byID[msg.ID] = len(t.Messages)
	t.Messages = append(t.Messages, msg)
	if b, ok := t.branches[branchID]; ok {
		b.OwnMessageIDs = append(b.OwnMessageIDs, msg.ID)
	}
	t.Metadata.LastModified = msg.CreatedAt
	return msg
}

// message looks a message up by id.
func (t *Thread) message(id string) (Message, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Message{}, false
	}
	return t.Messages[i], true
}

// seqOf returns the sequence index of a message, used to find the prefix
// boundary during view reconstruction.
func (t *Thread) seqOf(id string) (int, bool) {
	i, ok := t.byID[id]
	if !ok {
		return 0, false
	}
	return t.Messages[i].SequenceIndex, true
}

// viewFor reconstructs the ordered message sequence visible from a
// branch: for main, its own timeline; for any other branch, the global
// log prefix up to and including the fork point followed by the branch's
// own messages. Pure: never mutates the thread.
func (t *Thread) viewFor(b *Branch) []Message {
	if b.ID == MainBranchID {
		var out []Message
		for _, m := range t.Messages {
			if m.BranchID == MainBranchID {
				out = append(out, m)
			}
		}
		return out
	}

	var out []Message
	if b.ForkPointMessageID != "" {
		if forkSeq, ok := t.seqOf(b.ForkPointMessageID); ok {
			for _, m := range t.Messages {
				if m.SequenceIndex > forkSeq {
					break
				}
				out = append(out, m)
			}
		}
	}
	for _, id := range b.OwnMessageIDs {
		if m, ok := t.message(id); ok {
			out = append(out, m)
		}
	}
	return out
}

// removeBranch deletes a branch together with every message the branch
// owns. Removed ids are scrubbed from all remaining branch bookkeeping;
// a surviving branch whose fork point was deleted is repointed at the
// nearest surviving predecessor so its view stays well-formed.
func (t *Thread) removeBranch(id string) {
	b, ok := t.branches[id]
	if !ok {
		return
	}

	// For every message about to be removed, remember the latest earlier
	// message that survives, so dangling fork points can be repointed.
	deleted := make(map[string]bool, len(b.OwnMessageIDs))
	predecessor := make(map[string]string)
	lastSurviving := ""
	for _, m := range t.Messages {
		if m.BranchID == id {
			deleted[m.ID] = true
			predecessor[m.ID] = lastSurviving
		} else {
			lastSurviving = m.ID
		}
	}

	kept := t.Messages[:0]
	for _, m := range t.Messages {
		if !deleted[m.ID] {
			kept = append(kept, m)
		}
	}
	t.Messages = kept
	t.reindex()

	delete(t.branches, id)
	for i, bid := range t.branchOrder {
		if bid == id {
			t.branchOrder = append(t.branchOrder[:i], t.branchOrder[i+1:]...)
			break
		}
	}

	for _, other := range t.branches {
		if len(deleted) == 0 {
			break
		}
		own := other.OwnMessageIDs[:0]
		for _, mid := range other.OwnMessageIDs {
			if !deleted[mid] {
				own = append(own, mid)
			}
		}
		other.OwnMessageIDs = own
		if deleted[other.ForkPointMessageID] {
			other.ForkPointMessageID = predecessor[other.ForkPointMessageID]
		}
	}

	t.Metadata.LastModified = time.Now()
}

// reindex rebuilds the id lookup after log compaction. Sequence indexes
// stored on the messages themselves are never touched.
func (t *Thread) reindex() {
	t.byID = make(map[string]int, len(t.Messages))
	for i, m := range t.Messages {
		t.byID[m.ID] = i
	}
}

// setActive flips the IsActive flags so that exactly one branch carries it.
func (t *Thread) setActive(id string) {
	for _, b := range t.branches {
		b.IsActive = b.ID == id
	}
	t.CurrentBranchID = id
}

// knownBranches filters a list of branch ids down to the ones that exist
// in this thread's index.
func (t *Thread) knownBranches(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := t.branches[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// orderedBranches returns copies of all branches in creation order.
func (t *Thread) orderedBranches() []Branch {
	out := make([]Branch, 0, len(t.branchOrder))
	for _, id := range t.branchOrder {
		b := t.branches[id]
		cp := *b
		cp.OwnMessageIDs = append([]string(nil), b.OwnMessageIDs...)
		out = append(out, cp)
	}
	return out
}

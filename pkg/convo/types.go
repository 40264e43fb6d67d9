package convo

import (
	"time"
)

// Role defines who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MainBranchID is the id of the permanent root branch every thread owns.
const MainBranchID = "main"

// Message is a single entry in a thread's global log. Messages are
// immutable once appended: id, sequence index and branch attribution
// never change.
type Message struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	BranchID      string    `json:"branchId"`
	SequenceIndex int       `json:"sequenceIndex"`
}

// Branch is a named view over the global log: everything up to and
// including the fork point, followed by the messages authored while the
// branch was active.
type Branch struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	ForkPointMessageID string    `json:"forkPointMessageId"`
	OwnMessageIDs      []string  `json:"ownMessageIds"`
	IsActive           bool      `json:"isActive"`
	CreatedAt          time.Time `json:"createdAt"`
	Description        string    `json:"description,omitempty"`
}

// Metadata carries thread-level bookkeeping.
type Metadata struct {
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Topic        string    `json:"topic"`
}

// Navigation describes where the user currently is in the branch set.
// It is derived state: recomputed from the engine after every mutation.
type Navigation struct {
	CurrentBranchID    string   `json:"currentBranchId"`
	AvailableBranches  []string `json:"availableBranches"`
	BranchHistory      []string `json:"branchHistory"`
	CanNavigateBack    bool     `json:"canNavigateBack"`
	CanNavigateForward bool     `json:"canNavigateForward"`
}

// Stats summarizes a thread across all branches.
type Stats struct {
	TotalMessages     int        `json:"totalMessages"`
	UserMessages      int        `json:"userMessages"`
	AssistantMessages int        `json:"assistantMessages"`
	SystemMessages    int        `json:"systemMessages"`
	BranchCount       int        `json:"branchCount"`
	LastActivity      *time.Time `json:"lastActivity"`
}

// Config is supplied by the caller at initialization and echoed back in
// exports. Extra holds caller fields the engine does not interpret.
type Config struct {
	Topic     string            `json:"topic"`
	ThreadKey string            `json:"threadKey"`
	Extra     map[string]string `json:"extra,omitempty"`
}

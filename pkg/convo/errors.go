package convo

import "errors"

// All engine errors are caller-recoverable; none are fatal. Persistence
// failures are not represented here because the engine logs and swallows
// them (in-memory state stays authoritative for the session).
var (
	// ErrNotInitialized is returned by thread-scoped operations called
	// before Initialize.
	ErrNotInitialized = errors.New("conversation not initialized")

	// ErrNoActiveThread is returned by branch creation when no thread
	// exists to fork from.
	ErrNoActiveThread = errors.New("no active thread")

	// ErrBranchNotFound is returned by switch/rename/delete for unknown
	// branch ids.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrCannotDeleteMainBranch is returned when deleting "main" or when
	// deleting without an active thread.
	ErrCannotDeleteMainBranch = errors.New("cannot delete main branch")

	// ErrMessageNotFound is returned by branch creation when the requested
	// fork point does not exist in the global log.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidConversationData is returned by Import when the payload
	// does not carry the minimal thread shape. Import is all-or-nothing:
	// existing state is left untouched.
	ErrInvalidConversationData = errors.New("invalid conversation data")
)

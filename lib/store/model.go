// Package store holds the data-model types shared by the engine: operation
// inputs/results, message ids, key-space naming, and structured operation
// errors. It has no Redis dependency of its own - storeredis builds on top
// of it.
package store

// DefaultMessageTTL is substituted whenever a caller passes msg_ttl == 0,
// matching the reference engine's "0 means basically forever" convention.
const DefaultMessageTTL = 126144000 // ~4 years, in seconds

// DefaultEmptyTTL is used by SubscriberUnregister/ChannelKeepalive callers
// that don't specify an explicit empty-channel TTL.
const DefaultEmptyTTL = 20

// DefaultActiveTTL is used by SubscriberRegister callers that don't specify
// an explicit active-channel TTL.
const DefaultActiveTTL = 20

// BroadcastInlineLimit is the payload-size threshold (§4.b) below which a
// publish broadcasts the message inline, and above which it broadcasts only
// a reference to the stored message key.
const BroadcastInlineLimit = 5 * 1024

// MaxStoredMessages semantics (invariant 8):
//
//	< 0  unbounded, GC only on expiration
//	== 0 transient only, never appended to the log
//	> 0  ring buffer with this capacity
type MaxStoredMessages int64

const (
	// Unbounded means the log is never capped, only lazily GC'd.
	Unbounded MaxStoredMessages = -1
	// Transient means messages are never appended to the per-channel log.
	Transient MaxStoredMessages = 0
)

// ReadOrder selects which message a cursor-less GetMessage returns.
type ReadOrder string

const (
	// FIFO returns the newest (current) message.
	FIFO ReadOrder = "FIFO"
	// FILO returns the oldest still-live message.
	FILO ReadOrder = "FILO"
)

// NormalizeReadOrder defaults anything other than "FIFO" to "FILO", matching
// the reference script's `if no_msgid_order ~= 'FIFO' then 'FILO' end`.
func NormalizeReadOrder(s string) ReadOrder {
	if s == string(FIFO) {
		return FIFO
	}
	return FILO
}

// Status is the result code GetMessage returns (§4.c).
type Status int

const (
	// StatusOK means a message was found and returned.
	StatusOK Status = 200
	// StatusNotFound means the channel or the referenced message is
	// definitely gone.
	StatusNotFound Status = 404
	// StatusGone means the predecessor exists but its successor link is
	// dangling - distinct from StatusNotFound, which covers an unknown
	// channel or cursor outright.
	StatusGone Status = 410
	// StatusNotYet means the cursor is at or past the current message; the
	// caller should wait and retry later.
	StatusNotYet Status = 418
)

// PublishInput carries the Publish operation's arguments (§4.b).
type PublishInput struct {
	ChannelID         string
	Time              int64
	Data              []byte
	ContentType       []byte
	EventsourceEvent  []byte
	MessageTTL        int
	MaxStoredMessages MaxStoredMessages
}

// PublishResult carries the Publish operation's return tuple (§4.b).
type PublishResult struct {
	AssignedID           MessageID
	ChannelTTL           int
	ChannelTime          int64
	SubscribersEffective int64
	MessageCount         int64
	IsNewChannel         bool
}

// GetMessageInput carries the GetMessage operation's arguments (§4.c).
type GetMessageInput struct {
	ChannelID        string
	Cursor           *MessageID
	Order            ReadOrder
	CreateChannelTTL int
}

// GetMessageResult carries the GetMessage operation's return tuple (§4.c).
type GetMessageResult struct {
	Status           Status
	TTL              int
	ID               MessageID
	PrevTime         int64
	PrevTag          int64
	Data             []byte
	ContentType      []byte
	EventsourceEvent []byte
	Subscribers      int64
}

package store

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageID is the (time,tag) pair identifying a message within a channel.
// Textual form is "time:tag"; tag breaks ties between messages published
// within the same second.
type MessageID struct {
	Time int64
	Tag  int64
}

// ZeroMessageID is the "no predecessor" sentinel used for prev_time/prev_tag
// on the first message of a channel.
var ZeroMessageID = MessageID{}

// String renders the message id in its canonical "time:tag" textual form,
// used both as part of Redis key names and in wire payloads.
func (m MessageID) String() string {
	return fmt.Sprintf("%d:%d", m.Time, m.Tag)
}

// IsZero reports whether m is the 0:0 "no predecessor" sentinel.
func (m MessageID) IsZero() bool {
	return m.Time == 0 && m.Tag == 0
}

// Less reports whether m sorts strictly before other in (time,tag)
// lexicographic order (invariant 5 in the data model).
func (m MessageID) Less(other MessageID) bool {
	if m.Time != other.Time {
		return m.Time < other.Time
	}
	return m.Tag < other.Tag
}

// ParseMessageID parses the canonical "time:tag" textual form.
func ParseMessageID(s string) (MessageID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return MessageID{}, fmt.Errorf("malformed message id %q", s)
	}
	t, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return MessageID{}, fmt.Errorf("malformed message id %q: %w", s, err)
	}
	tag, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return MessageID{}, fmt.Errorf("malformed message id %q: %w", s, err)
	}
	return MessageID{Time: t, Tag: tag}, nil
}

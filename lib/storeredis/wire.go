package storeredis

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// The broadcast/reply wire format (§6) is a compact tagged array. The Lua
// scripts pack these with Redis' bundled cmsgpack; this file gives Go
// subscribers a typed way to decode the same bytes with
// github.com/vmihailenco/msgpack/v5, which implements the same MessagePack
// encoding cmsgpack targets.

// EnvelopeTag identifies which broadcast variant a decoded payload carries.
type EnvelopeTag string

const (
	// TagMsg wraps an inline message payload (< 5 KiB data).
	TagMsg EnvelopeTag = "msg"
	// TagMsgKey wraps a reference to a message stored under a Redis key,
	// used for payloads too large to inline.
	TagMsgKey EnvelopeTag = "msgkey"
	// TagAlert wraps a channel-lifecycle alert, e.g. deletion.
	TagAlert EnvelopeTag = "alert"
)

// MsgEnvelope is the inline-publish broadcast variant.
type MsgEnvelope struct {
	TTL              int64
	Time             int64
	Tag              int64
	PrevTime         int64
	PrevTag          int64
	Data             []byte
	ContentType      []byte
	EventsourceEvent []byte
}

// MsgKeyEnvelope is the large-payload broadcast variant; subscribers fetch
// the actual payload with GetMessageFromKey.
type MsgKeyEnvelope struct {
	Time       int64
	Tag        int64
	MessageKey string
}

// AlertEnvelope is the channel-lifecycle alert broadcast variant.
type AlertEnvelope struct {
	Reason    string
	ChannelID string
}

// DecodeEnvelope sniffs the leading tag of a broadcast/reply payload and
// decodes it into the matching typed envelope. Status broadcasts
// ("status:{code}") are not tag-wrapped and are not handled here - callers
// should check for that prefix before calling DecodeEnvelope.
func DecodeEnvelope(payload []byte) (interface{}, error) {
	var raw []interface{}
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("storeredis: decode envelope: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("storeredis: empty envelope")
	}
	tag, ok := raw[0].(string)
	if !ok {
		return nil, fmt.Errorf("storeredis: envelope tag is not a string: %T", raw[0])
	}

	switch EnvelopeTag(tag) {
	case TagMsg:
		return decodeMsgEnvelope(raw)
	case TagMsgKey:
		return decodeMsgKeyEnvelope(raw)
	case TagAlert:
		return decodeAlertEnvelope(raw)
	default:
		return nil, fmt.Errorf("storeredis: unknown envelope tag %q", tag)
	}
}

func decodeMsgEnvelope(raw []interface{}) (*MsgEnvelope, error) {
	if len(raw) != 9 {
		return nil, fmt.Errorf("storeredis: msg envelope wants 9 fields, got %d", len(raw))
	}
	return &MsgEnvelope{
		TTL:              toInt64(raw[1]),
		Time:             toInt64(raw[2]),
		Tag:              toInt64(raw[3]),
		PrevTime:         toInt64(raw[4]),
		PrevTag:          toInt64(raw[5]),
		Data:             toBytes(raw[6]),
		ContentType:      toBytes(raw[7]),
		EventsourceEvent: toBytes(raw[8]),
	}, nil
}

func decodeMsgKeyEnvelope(raw []interface{}) (*MsgKeyEnvelope, error) {
	if len(raw) != 4 {
		return nil, fmt.Errorf("storeredis: msgkey envelope wants 4 fields, got %d", len(raw))
	}
	return &MsgKeyEnvelope{
		Time:       toInt64(raw[1]),
		Tag:        toInt64(raw[2]),
		MessageKey: string(toBytes(raw[3])),
	}, nil
}

func decodeAlertEnvelope(raw []interface{}) (*AlertEnvelope, error) {
	if len(raw) != 3 {
		return nil, fmt.Errorf("storeredis: alert envelope wants 3 fields, got %d", len(raw))
	}
	return &AlertEnvelope{
		Reason:    string(toBytes(raw[1])),
		ChannelID: string(toBytes(raw[2])),
	}, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toBytes(v interface{}) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
	}
}

package storeredis

import (
	"github.com/garyburd/redigo/redis"

	"github.com/float001/nchan/lib/store"
)

// GetMessage fetches a message by (time,tag) cursor, or by FIFO/FILO
// ordinal when no cursor is given, with "not yet available" semantics
// (§4.c).
func (e *Engine) GetMessage(in store.GetMessageInput) (store.GetMessageResult, error) {
	shard := e.shardFor(in.ChannelID)
	conn := shard.pool.Get()
	defer conn.Close()

	var msgTime, msgTag int64
	if in.Cursor != nil {
		msgTime, msgTag = in.Cursor.Time, in.Cursor.Tag
	}

	reply, err := shard.scripts.GetMessage.Do(conn,
		shard.config.Prefix,
		in.ChannelID,
		msgTime,
		msgTag,
		string(store.NormalizeReadOrder(string(in.Order))),
		in.CreateChannelTTL,
		"", // subscribe_if_current: accepted, ignored (§9 open question)
	)
	if err != nil {
		return store.GetMessageResult{}, toOpError("get_message", err)
	}

	vals, err := redis.Values(reply, nil)
	if err != nil {
		return store.GetMessageResult{}, store.WrapError("get_message", err)
	}
	if len(vals) == 0 {
		return store.GetMessageResult{}, store.WrapError("get_message", errUnexpectedReply("get_message", 0))
	}

	code, err := redis.Int64(vals[0], nil)
	if err != nil {
		return store.GetMessageResult{}, store.WrapError("get_message", err)
	}
	status := store.Status(code)

	if status != store.StatusOK {
		var subs int64
		if len(vals) > 1 {
			subs, _ = redis.Int64(vals[1], nil)
		}
		return store.GetMessageResult{Status: status, Subscribers: subs}, nil
	}
	if len(vals) != 10 {
		return store.GetMessageResult{}, store.WrapError("get_message", errUnexpectedReply("get_message", len(vals)))
	}

	ttl, _ := redis.Int(vals[1], nil)
	msgTimeOut, _ := redis.Int64(vals[2], nil)
	msgTagOut, _ := redis.Int64(vals[3], nil)
	prevTime, _ := redis.Int64(vals[4], nil)
	prevTag, _ := redis.Int64(vals[5], nil)
	data, _ := redis.Bytes(vals[6], nil)
	contentType, _ := redis.Bytes(vals[7], nil)
	eventsourceEvent, _ := redis.Bytes(vals[8], nil)
	subs, _ := redis.Int64(vals[9], nil)

	return store.GetMessageResult{
		Status:           status,
		TTL:              ttl,
		ID:               store.MessageID{Time: msgTimeOut, Tag: msgTagOut},
		PrevTime:         prevTime,
		PrevTag:          prevTag,
		Data:             data,
		ContentType:      contentType,
		EventsourceEvent: eventsourceEvent,
		Subscribers:      subs,
	}, nil
}

// GetMessageFromKey fetches a message directly by its Redis key, used by
// subscribers that received a "msgkey" broadcast variant for a large
// payload (§4.d).
func (e *Engine) GetMessageFromKey(channelID string, id store.MessageID) (store.GetMessageResult, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	key := shard.keys.Message(channelID, id)
	reply, err := shard.scripts.GetMessageFromKey.Do(conn, key)
	if err != nil {
		return store.GetMessageResult{}, toOpError("get_message_from_key", err)
	}

	vals, err := redis.Values(reply, nil)
	if err != nil {
		return store.GetMessageResult{}, store.WrapError("get_message_from_key", err)
	}
	if len(vals) != 8 {
		return store.GetMessageResult{}, store.WrapError("get_message_from_key", errUnexpectedReply("get_message_from_key", len(vals)))
	}

	ttl, _ := redis.Int(vals[0], nil)
	msgTime, _ := redis.Int64(vals[1], nil)
	msgTag, _ := redis.Int64(vals[2], nil)
	prevTime, _ := redis.Int64(vals[3], nil)
	prevTag, _ := redis.Int64(vals[4], nil)
	data, _ := redis.Bytes(vals[5], nil)
	contentType, _ := redis.Bytes(vals[6], nil)
	eventsourceEvent, _ := redis.Bytes(vals[7], nil)

	return store.GetMessageResult{
		Status:           store.StatusOK,
		TTL:              ttl,
		ID:               store.MessageID{Time: msgTime, Tag: msgTag},
		PrevTime:         prevTime,
		PrevTag:          prevTag,
		Data:             data,
		ContentType:      contentType,
		EventsourceEvent: eventsourceEvent,
	}, nil
}

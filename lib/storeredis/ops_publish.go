package storeredis

import (
	"github.com/garyburd/redigo/redis"

	"github.com/float001/nchan/lib/logging"
	"github.com/float001/nchan/lib/store"
)

// Publish appends a message to a channel's log, assigns it a monotonic id,
// evicts per the channel's buffer policy, and broadcasts it (§4.b).
func (e *Engine) Publish(in store.PublishInput) (store.PublishResult, error) {
	shard := e.shardFor(in.ChannelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.Publish.Do(conn,
		shard.config.Prefix,
		in.ChannelID,
		in.Time,
		in.Data,
		in.ContentType,
		in.EventsourceEvent,
		in.MessageTTL,
		int64(in.MaxStoredMessages),
	)
	if err != nil {
		return store.PublishResult{}, toOpError("publish", err)
	}

	vals, err := redis.Values(reply, nil)
	if err != nil {
		return store.PublishResult{}, store.WrapError("publish", err)
	}
	if len(vals) != 3 {
		return store.PublishResult{}, store.WrapError("publish", errUnexpectedReply("publish", len(vals)))
	}

	tag, err := redis.Int64(vals[0], nil)
	if err != nil {
		return store.PublishResult{}, store.WrapError("publish", err)
	}
	summary, err := redis.Int64s(vals[1], nil)
	if err != nil {
		return store.PublishResult{}, store.WrapError("publish", err)
	}
	if len(summary) != 4 {
		return store.PublishResult{}, store.WrapError("publish", errUnexpectedReply("publish channel summary", len(summary)))
	}
	isNew, err := redis.Bool(vals[2], nil)
	if err != nil {
		return store.PublishResult{}, store.WrapError("publish", err)
	}

	shard.log.Log(logging.NewEntry(logging.DEBUG, "published message", map[string]interface{}{
		"channel": in.ChannelID,
		"time":    in.Time,
		"tag":     tag,
	}))

	return store.PublishResult{
		AssignedID:           store.MessageID{Time: in.Time, Tag: tag},
		ChannelTTL:           int(summary[0]),
		ChannelTime:          summary[1],
		SubscribersEffective: summary[2],
		MessageCount:         summary[3],
		IsNewChannel:         isNew,
	}, nil
}

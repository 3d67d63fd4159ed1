package storeredis

import (
	"github.com/garyburd/redigo/redis"

	"github.com/float001/nchan/lib/store"
)

// DeleteResult is the snapshot Delete returns for a channel that existed.
type DeleteResult struct {
	TTL          int64
	TimeLastSeen int64
	Subscribers  int64
	MessageCount int64
}

// Delete tears down a channel: drains and deletes every message record,
// alerts short-term and long-lived subscribers, snapshots the channel's
// last-known state, and leaves a 5s tombstone (§4.i). Returns nil, nil if
// the channel did not exist.
func (e *Engine) Delete(channelID string) (*DeleteResult, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.Delete.Do(conn, shard.config.Prefix, channelID)
	if err != nil {
		return nil, toOpError("delete", err)
	}
	if reply == nil {
		return nil, nil
	}

	vals, err := redis.Int64s(reply, nil)
	if err != nil {
		return nil, store.WrapError("delete", err)
	}
	if len(vals) != 4 {
		return nil, store.WrapError("delete", errUnexpectedReply("delete", len(vals)))
	}

	return &DeleteResult{
		TTL:          vals[0],
		TimeLastSeen: vals[1],
		Subscribers:  vals[2],
		MessageCount: vals[3],
	}, nil
}

// FindChannelResult is the snapshot FindChannel returns for a channel that
// exists. This operation is read-only - it never creates or refreshes a
// channel.
type FindChannelResult struct {
	TTL                 int64
	TimeLastSeen        int64
	SubscribersEffective int64
	MessageCount        int64
}

// FindChannel returns a channel's metadata snapshot, or nil if the channel
// does not exist. Supplemented from original_source/redis_lua_commands.h's
// find_channel script (see SPEC_FULL.md).
func (e *Engine) FindChannel(channelID string) (*FindChannelResult, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.FindChannel.Do(conn, shard.config.Prefix, channelID)
	if err != nil {
		return nil, toOpError("find_channel", err)
	}
	if reply == nil {
		return nil, nil
	}

	vals, err := redis.Int64s(reply, nil)
	if err != nil {
		return nil, store.WrapError("find_channel", err)
	}
	if len(vals) != 4 {
		return nil, store.WrapError("find_channel", errUnexpectedReply("find_channel", len(vals)))
	}

	return &FindChannelResult{
		TTL:                  vals[0],
		TimeLastSeen:         vals[1],
		SubscribersEffective: vals[2],
		MessageCount:         vals[3],
	}, nil
}

// AddFakesub adjusts a channel's fake_subscribers counter by delta, used to
// impersonate real subscribers for tests or load simulation (§4.j). If the
// channel doesn't exist and delta is positive, a 5s placeholder channel is
// created so the counter survives briefly.
func (e *Engine) AddFakesub(channelID string, delta int64) (int64, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.AddFakesub.Do(conn, shard.config.Prefix, channelID, delta)
	if err != nil {
		return 0, toOpError("add_fakesub", err)
	}
	return redis.Int64(reply, nil)
}

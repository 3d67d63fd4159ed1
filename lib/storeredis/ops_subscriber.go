package storeredis

import (
	"github.com/garyburd/redigo/redis"

	"github.com/float001/nchan/lib/store"
)

// SubscriberRegisterResult carries the SubscriberRegister operation's
// return tuple (§4.e).
type SubscriberRegisterResult struct {
	SubscriberID     string
	SubscribersTotal int64
	NextKeepalive    int64
}

// SubscriberRegister registers a subscriber (or re-registers an existing
// one) against a channel and refreshes its TTL if needed (§4.e). Pass "-"
// as subscriberID to have the engine assign a new monotonic id.
func (e *Engine) SubscriberRegister(channelID, subscriberID string, activeTTL int) (SubscriberRegisterResult, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.SubscriberRegister.Do(conn, shard.config.Prefix, channelID, subscriberID, activeTTL)
	if err != nil {
		return SubscriberRegisterResult{}, toOpError("subscriber_register", err)
	}

	vals, err := redis.Values(reply, nil)
	if err != nil {
		return SubscriberRegisterResult{}, store.WrapError("subscriber_register", err)
	}
	if len(vals) != 3 {
		return SubscriberRegisterResult{}, store.WrapError("subscriber_register", errUnexpectedReply("subscriber_register", len(vals)))
	}

	id, err := redis.String(vals[0], nil)
	if err != nil {
		return SubscriberRegisterResult{}, store.WrapError("subscriber_register", err)
	}
	total, err := redis.Int64(vals[1], nil)
	if err != nil {
		return SubscriberRegisterResult{}, store.WrapError("subscriber_register", err)
	}
	next, err := redis.Int64(vals[2], nil)
	if err != nil {
		return SubscriberRegisterResult{}, store.WrapError("subscriber_register", err)
	}

	return SubscriberRegisterResult{SubscriberID: id, SubscribersTotal: total, NextKeepalive: next}, nil
}

// SubscriberUnregisterResult carries the SubscriberUnregister operation's
// return tuple (§4.f).
type SubscriberUnregisterResult struct {
	SubscriberID     string
	SubscribersTotal int64
}

// SubscriberUnregister removes one subscriber from a channel, applying
// empty_ttl once the last subscriber leaves (§4.f). Unregistering from an
// already-gone channel is a no-op that returns (id, 0).
func (e *Engine) SubscriberUnregister(channelID, subscriberID string, emptyTTL int) (SubscriberUnregisterResult, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.SubscriberUnregister.Do(conn, shard.config.Prefix, channelID, subscriberID, emptyTTL)
	if err != nil {
		return SubscriberUnregisterResult{}, toOpError("subscriber_unregister", err)
	}

	vals, err := redis.Values(reply, nil)
	if err != nil {
		return SubscriberUnregisterResult{}, store.WrapError("subscriber_unregister", err)
	}
	if len(vals) != 2 {
		return SubscriberUnregisterResult{}, store.WrapError("subscriber_unregister", errUnexpectedReply("subscriber_unregister", len(vals)))
	}

	id, err := redis.String(vals[0], nil)
	if err != nil {
		return SubscriberUnregisterResult{}, store.WrapError("subscriber_unregister", err)
	}
	total, err := redis.Int64(vals[1], nil)
	if err != nil {
		return SubscriberUnregisterResult{}, store.WrapError("subscriber_unregister", err)
	}

	return SubscriberUnregisterResult{SubscriberID: id, SubscribersTotal: total}, nil
}

// ChannelKeepalive refreshes a channel's TTL on behalf of an external
// subscriber liveness driver, or signals the channel should be allowed to
// disappear (§4.g). Returns -1 when the channel has zero subscribers, else
// the number of seconds until the next keepalive is expected.
func (e *Engine) ChannelKeepalive(channelID string, ttl int) (int64, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.ChannelKeepalive.Do(conn, shard.config.Prefix, channelID, ttl)
	if err != nil {
		return 0, toOpError("channel_keepalive", err)
	}
	return redis.Int64(reply, nil)
}

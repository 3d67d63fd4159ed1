package storeredis

import "github.com/garyburd/redigo/redis"

// PublishStatus sends a numeric status code to every short-term subscriber
// reply topic, clears that set, and also broadcasts the same status on the
// channel's long-lived broadcast topic (§4.h).
func (e *Engine) PublishStatus(channelID string, code int) (int64, error) {
	shard := e.shardFor(channelID)
	conn := shard.pool.Get()
	defer conn.Close()

	reply, err := shard.scripts.PublishStatus.Do(conn, shard.config.Prefix, channelID, code)
	if err != nil {
		return 0, toOpError("publish_status", err)
	}
	return redis.Int64(reply, nil)
}

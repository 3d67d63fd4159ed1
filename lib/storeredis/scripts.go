package storeredis

import "github.com/garyburd/redigo/redis"

// Each operation in §4/§6 is implemented as a single Lua script so it runs
// atomically inside Redis' single-threaded script executor (§5). Scripts
// are loaded once per shard and invoked by EVALSHA; redis.Script falls back
// to EVAL transparently the first time (or after a cache flush), so callers
// never have to think about script identifiers directly.

const addFakesubSrc = `
local prefix = ARGV[1]
local id = ARGV[2]
local delta = tonumber(ARGV[3])
if delta == nil then
  return {err = "add_fakesub: delta (argv 3) must be a number"}
end

local chkey = prefix .. 'channel:' .. id
local exists = redis.call('EXISTS', chkey) == 1

if not exists and delta <= 0 then
  return 0
end

local cur = redis.call('HINCRBY', chkey, 'fake_subscribers', delta)
if not exists then
  redis.call('EXPIRE', chkey, 5)
end
return cur
`

const channelKeepaliveSrc = `
local prefix = ARGV[1]
local id = ARGV[2]
local ttl = tonumber(ARGV[3])
if ttl == nil then
  return {err = "channel_keepalive: ttl (argv 3) must be a number"}
end

local jitter = function(base)
  return math.floor(base / 2 + (base / 2.1) * math.random())
end

local chkey = prefix .. 'channel:' .. id
local mskey = prefix .. 'channel:messages:' .. id

local subs = tonumber(redis.call('HGET', chkey, 'subscribers')) or 0
if subs <= 0 then
  return -1
end

local msgs = tonumber(redis.call('LLEN', mskey)) or 0
local actual_ttl = tonumber(redis.call('TTL', chkey)) or -2

if msgs > 0 and actual_ttl > ttl then
  return jitter(actual_ttl)
end

redis.call('EXPIRE', chkey, ttl)
redis.call('EXPIRE', mskey, ttl)
return jitter(ttl)
`

const deleteSrc = `
local prefix = ARGV[1]
local id = ARGV[2]
local chkey = prefix .. 'channel:' .. id
local mskey = prefix .. 'channel:messages:' .. id
local subkey = prefix .. 'channel:subscribers:' .. id
local pskey = prefix .. 'channel:pubsub:' .. id
local msgfmt = prefix .. 'channel:msg:%s:' .. id

local removed = 0
while true do
  local msgid = redis.call('LPOP', mskey)
  if not msgid then
    break
  end
  removed = removed + 1
  redis.call('DEL', msgfmt:format(msgid))
end

local snapshot = nil
if redis.call('EXISTS', chkey) ~= 0 then
  local fields = redis.call('HMGET', chkey, 'ttl', 'time_last_seen', 'subscribers')
  snapshot = {}
  for i = 1, #fields do
    snapshot[i] = tonumber(fields[i]) or 0
  end
  table.insert(snapshot, removed)
  redis.call('SETEX', prefix .. 'channel:deleted:' .. id, 5, 1)
end

local alert = nil
local get_alert = function()
  if not alert then
    alert = cmsgpack.pack({"alert", "delete channel", id})
  end
  return alert
end
for _, replyTopic in ipairs(redis.call('SMEMBERS', subkey)) do
  redis.call('PUBLISH', replyTopic, get_alert())
end

redis.call('DEL', chkey, mskey, subkey)

if tonumber(redis.call('PUBSUB', 'NUMSUB', pskey)[2]) > 0 then
  redis.call('PUBLISH', pskey, get_alert())
end

return snapshot
`

const findChannelSrc = `
local prefix = ARGV[1]
local id = ARGV[2]
local chkey = prefix .. 'channel:' .. id

if redis.call('EXISTS', chkey) == 0 then
  return nil
end

local fields = redis.call('HMGET', chkey, 'ttl', 'time_last_seen', 'subscribers', 'fake_subscribers')
local effective_subs = tonumber(fields[4]) or tonumber(fields[3]) or 0
local result = {tonumber(fields[1]) or 0, tonumber(fields[2]) or 0, effective_subs}
table.insert(result, redis.call('LLEN', prefix .. 'channel:messages:' .. id))
return result
`

const getMessageSrc = `
local prefix = ARGV[1]
local id, msg_time, msg_tag = ARGV[2], tonumber(ARGV[3]), tonumber(ARGV[4])
local order = ARGV[5]
local create_channel_ttl = tonumber(ARGV[6]) or 0
-- ARGV[7] (subscribe_if_current) is read and intentionally ignored.

if order ~= 'FIFO' then
  order = 'FILO'
end

local chkey = prefix .. 'channel:' .. id
local mskey = prefix .. 'channel:messages:' .. id
local msgfmt = prefix .. 'channel:msg:%s:' .. id

local empty_reply = function(subs)
  return {418, subs or 0}
end

local gc_tail = function()
  while true do
    local oldest = redis.call('LINDEX', mskey, -1)
    if not oldest then
      return nil
    end
    if redis.call('EXISTS', msgfmt:format(oldest)) == 1 then
      return oldest
    end
    redis.call('RPOP', mskey)
  end
end

local new_channel = false
if redis.call('EXISTS', chkey) == 0 then
  if create_channel_ttl == 0 then
    return {404, 0}
  end
  redis.call('HSET', chkey, 'time', msg_time or 0)
  redis.call('EXPIRE', chkey, create_channel_ttl)
  new_channel = true
end

local subs = tonumber(redis.call('HGET', chkey, 'subscribers')) or 0
local current = redis.call('HGET', chkey, 'current_message')

local cursor_given = msg_time ~= nil and msg_time ~= 0 and msg_tag ~= nil
local msg_id = nil
if cursor_given then
  msg_id = ('%d:%d'):format(msg_time, msg_tag)
end

if not msg_id then
  if new_channel then
    return empty_reply(subs)
  end
  local found_id
  if order == 'FIFO' then
    found_id = current
  else
    found_id = gc_tail()
  end
  if not found_id then
    return empty_reply(subs)
  end
  local key = msgfmt:format(found_id)
  if redis.call('EXISTS', key) == 0 then
    return {404, subs}
  end
  local f = redis.call('HMGET', key, 'time', 'tag', 'prev_time', 'prev_tag', 'data', 'content_type', 'eventsource_event')
  local ttl = redis.call('TTL', key)
  return {200, ttl, tonumber(f[1]) or 0, tonumber(f[2]) or 0, tonumber(f[3]) or 0, tonumber(f[4]) or 0, f[5] or "", f[6] or "", f[7] or "", subs}
end

if not current or current == msg_id then
  return empty_reply(subs)
end

local curkey = msgfmt:format(msg_id)
if redis.call('EXISTS', curkey) == 0 then
  return {404, subs}
end

local next_id = redis.call('HGET', curkey, 'next')
if not next_id then
  return {404, subs}
end

local nextkey = msgfmt:format(next_id)
if redis.call('EXISTS', nextkey) == 0 then
  return {410, subs}
end

local f = redis.call('HMGET', nextkey, 'time', 'tag', 'prev_time', 'prev_tag', 'data', 'content_type', 'eventsource_event')
local ttl = redis.call('TTL', nextkey)
return {200, ttl, tonumber(f[1]) or 0, tonumber(f[2]) or 0, tonumber(f[3]) or 0, tonumber(f[4]) or 0, f[5] or "", f[6] or "", f[7] or "", subs}
`

const getMessageFromKeySrc = `
local key = KEYS[1]
local ttl = redis.call('TTL', key)
local f = redis.call('HMGET', key, 'time', 'tag', 'prev_time', 'prev_tag', 'data', 'content_type', 'eventsource_event')
return {ttl, tonumber(f[1]) or 0, tonumber(f[2]) or 0, tonumber(f[3]) or 0, tonumber(f[4]) or 0, f[5] or "", f[6] or "", f[7] or ""}
`

const publishSrc = `
local prefix = ARGV[1]
local id = ARGV[2]
local pub_time = tonumber(ARGV[3])
local data = ARGV[4]
local content_type = ARGV[5]
local es_event = ARGV[6]
local msg_ttl = tonumber(ARGV[7])
local max_buf = tonumber(ARGV[8])

if msg_ttl == nil or msg_ttl == 0 then
  msg_ttl = 126144000
end
if max_buf == nil then
  return {err = "publish: max_msg_buf_size (argv 8) must not be empty"}
end
if type(content_type) == 'string' and content_type:find(':') then
  return {err = "publish: content_type must not contain ':'"}
end

local chkey = prefix .. 'channel:' .. id
local mskey = prefix .. 'channel:messages:' .. id
local subkey = prefix .. 'channel:subscribers:' .. id
local pskey = prefix .. 'channel:pubsub:' .. id
local msgfmt = prefix .. 'channel:msg:%s:' .. id

local new_channel = redis.call('EXISTS', chkey) == 0
local prior_current = redis.call('HGET', chkey, 'current_message')

local tag = 0
local prev_time, prev_tag = 0, 0
if prior_current then
  local pf = redis.call('HMGET', msgfmt:format(prior_current), 'time', 'tag')
  prev_time, prev_tag = tonumber(pf[1]), tonumber(pf[2])
  if prev_time == pub_time then
    tag = prev_tag + 1
  end
end

local msg_id = ('%d:%d'):format(pub_time, tag)
local msgkey = msgfmt:format(msg_id)
if redis.call('EXISTS', msgkey) ~= 0 then
  return {err = ("publish: message %s already exists for channel %s"):format(msg_id, id)}
end

if prior_current then
  redis.call('HSET', msgfmt:format(prior_current), 'next', msg_id)
end

redis.call('HSET', chkey, 'current_message', msg_id, 'time', pub_time)
if prior_current then
  redis.call('HSET', chkey, 'prev_message', prior_current)
end

local channel_ttl = tonumber(redis.call('HGET', chkey, 'ttl'))
if not channel_ttl then
  channel_ttl = msg_ttl
  redis.call('HSET', chkey, 'ttl', channel_ttl)
end

local max_stored = tonumber(redis.call('HGET', chkey, 'max_stored_messages'))
if not max_stored then
  max_stored = max_buf
  redis.call('HSET', chkey, 'max_stored_messages', max_stored)
end

local unbuffered = max_buf == 0

redis.call('HSET', msgkey,
  'time', pub_time, 'tag', tag,
  'prev_time', prev_time, 'prev_tag', prev_tag,
  'data', data, 'content_type', content_type, 'eventsource_event', es_event,
  'unbuffered', unbuffered and 1 or 0)

if max_stored < 0 then
  while true do
    local oldest = redis.call('LINDEX', mskey, -1)
    if not oldest then break end
    if redis.call('EXISTS', msgfmt:format(oldest)) == 1 then break end
    redis.call('RPOP', mskey)
  end
  redis.call('LPUSH', mskey, msg_id)
elseif max_stored > 0 then
  redis.call('LPUSH', mskey, msg_id)
  if tonumber(redis.call('LLEN', mskey)) > max_stored then
    local evicted = redis.call('RPOP', mskey)
    redis.call('DEL', msgfmt:format(evicted))
  end
  while true do
    local oldest = redis.call('LINDEX', mskey, -1)
    if not oldest then break end
    if redis.call('EXISTS', msgfmt:format(oldest)) == 1 then break end
    redis.call('RPOP', mskey)
  end
end

redis.call('EXPIRE', msgkey, msg_ttl)
redis.call('EXPIRE', chkey, channel_ttl)
redis.call('EXPIRE', mskey, channel_ttl)
redis.call('EXPIRE', subkey, channel_ttl)

local numsub = tonumber(redis.call('PUBSUB', 'NUMSUB', pskey)[2])
if numsub > 0 then
  local envelope
  if #data < 5 * 1024 then
    envelope = {"msg", msg_ttl, pub_time, tag, prev_time, prev_tag, data, content_type, es_event}
  else
    envelope = {"msgkey", pub_time, tag, msgkey}
  end
  redis.call('PUBLISH', pskey, cmsgpack.pack(envelope))
end

local effective_subs = tonumber(redis.call('HGET', chkey, 'fake_subscribers'))
if not effective_subs then
  effective_subs = tonumber(redis.call('HGET', chkey, 'subscribers')) or 0
end
local num_messages = tonumber(redis.call('LLEN', mskey)) or 0

return {tag, {channel_ttl, pub_time, effective_subs, num_messages}, new_channel}
`

const publishStatusSrc = `
local prefix = ARGV[1]
local id = ARGV[2]
local code = tonumber(ARGV[3])
if code == nil then
  return {err = "publish_status: status code (argv 3) must be numeric"}
end

local subkey = prefix .. 'channel:subscribers:' .. id
local chkey = prefix .. 'channel:' .. id
local pskey = prefix .. 'channel:pubsub:' .. id

local payload = 'status:' .. code
for _, replyTopic in ipairs(redis.call('SMEMBERS', subkey)) do
  redis.call('PUBLISH', replyTopic, payload)
end
redis.call('DEL', subkey)
redis.call('PUBLISH', pskey, payload)

return tonumber(redis.call('HGET', chkey, 'subscribers')) or 0
`

const subscriberRegisterSrc = `
local prefix = ARGV[1]
local id, sub_id = ARGV[2], ARGV[3]
local active_ttl = tonumber(ARGV[4]) or 20

local chkey = prefix .. 'channel:' .. id
local mskey = prefix .. 'channel:messages:' .. id
local subkey = prefix .. 'channel:subscribers:' .. id

local jitter = function(base)
  return math.floor(base / 2 + (base / 2.1) * math.random())
end

local setttl = function(ttl)
  for _, k in ipairs({chkey, mskey, subkey}) do
    if ttl > 0 then
      redis.call('EXPIRE', k, ttl)
    else
      redis.call('PERSIST', k)
    end
  end
end

local sub_count
if sub_id == '-' then
  sub_id = tostring(redis.call('HINCRBY', chkey, 'last_subscriber_id', 1))
  sub_count = tonumber(redis.call('HINCRBY', chkey, 'subscribers', 1))
else
  sub_count = tonumber(redis.call('HGET', chkey, 'subscribers')) or 0
end

local actual_ttl = tonumber(redis.call('TTL', chkey)) or -2
local next_keepalive
if actual_ttl < active_ttl then
  setttl(active_ttl)
  next_keepalive = jitter(active_ttl)
else
  next_keepalive = jitter(actual_ttl)
end

return {sub_id, sub_count, next_keepalive}
`

const subscriberUnregisterSrc = `
local prefix = ARGV[1]
local id, sub_id = ARGV[2], ARGV[3]
local empty_ttl = tonumber(ARGV[4]) or 20

local chkey = prefix .. 'channel:' .. id
local mskey = prefix .. 'channel:messages:' .. id
local subkey = prefix .. 'channel:subscribers:' .. id

local setttl = function(ttl)
  for _, k in ipairs({chkey, mskey, subkey}) do
    if ttl > 0 then
      redis.call('EXPIRE', k, ttl)
    elseif ttl < 0 then
      redis.call('PERSIST', k)
    else
      redis.call('DEL', k)
    end
  end
end

local sub_count = 0
if redis.call('EXISTS', chkey) ~= 0 then
  sub_count = redis.call('HINCRBY', chkey, 'subscribers', -1)
  if sub_count == 0 then
    setttl(empty_ttl)
  elseif sub_count < 0 then
    return {err = ("subscriber_unregister: subscriber count for channel %s went below zero: %d"):format(id, sub_count)}
  end
end

return {sub_id, sub_count}
`

const rsckSrc = `
local prefix = ARGV[1]
local errs = {}
local err = function(msg) table.insert(errs, msg) end

local tohash = function(arr)
  local h = {}
  local k = nil
  for _, v in ipairs(arr) do
    if k == nil then k = v else h[k] = v; k = nil end
  end
  return h
end

local known_msgkeys = {}
local known_msgs_count = 0

local check_msg = function(chid, msgid, expected_prev, expected_next, where)
  if msgid == false or msgid == nil then return end
  local msgkey = prefix .. ('channel:msg:%s:%s'):format(msgid, chid)
  if not known_msgkeys[msgkey] then
    known_msgs_count = known_msgs_count + 1
    known_msgkeys[msgkey] = true
  end
  if redis.call('TYPE', msgkey)['ok'] ~= 'hash' then
    err(where .. ' ' .. msgkey .. ' should be a hash')
    return
  end
  local msg = tohash(redis.call('HGETALL', msgkey))
  if expected_prev ~= false then
    local want = expected_prev and (('%s'):format(expected_prev)) or nil
    if want and msg.prev_time and msg.prev_tag then
      local got = msg.prev_time .. ':' .. msg.prev_tag
      if got ~= want then
        err(('%s %s prev mismatch: expected %s got %s'):format(where, msgkey, want, got))
      end
    end
  end
  if expected_next ~= false and msg.next ~= expected_next then
    err(('%s %s next mismatch: expected %s got %s'):format(where, msgkey, tostring(expected_next), tostring(msg.next)))
  end
end

local check_channel = function(id)
  local chkey = prefix .. 'channel:' .. id
  local mskey = prefix .. 'channel:messages:' .. id
  local msgs_type = redis.call('TYPE', mskey)['ok']
  if msgs_type ~= 'list' and msgs_type ~= 'none' then
    err('channel messages list ' .. mskey .. ' has unexpected type ' .. msgs_type)
  end

  local ch = tohash(redis.call('HGETALL', chkey))
  if not ch.current_message or not ch.time then
    if msgs_type == 'list' then
      err('incomplete channel record ' .. chkey)
    end
  elseif (ch.current_message or ch.prev_message) and msgs_type ~= 'list' then
    err('channel ' .. chkey .. ' has a current_message but no message list')
  end

  local ids = redis.call('LRANGE', mskey, 0, -1)
  for i, msgid in ipairs(ids) do
    check_msg(id, msgid, ids[i + 1], ids[i - 1], 'msglist')
  end

  if ch.current_message and redis.call('LINDEX', mskey, 0) ~= ch.current_message then
    err('channel ' .. chkey .. ' current_message does not match list head')
  end
  if ch.prev_message and redis.call('LINDEX', mskey, 1) ~= ch.prev_message then
    err('channel ' .. chkey .. ' prev_message does not match list index 1')
  end
end

local has_prefix = function(s, p)
  return s:sub(1, #p) == p
end

local chan_ns = prefix .. 'channel:'
local sub_namespaces = {
  chan_ns .. 'messages:', chan_ns:sub(1, -2) .. ':msg:', chan_ns .. 'subscribers:',
  chan_ns .. 'pubsub:', chan_ns .. 'deleted:',
}

local channel_ids = {}
local cursor = '0'
repeat
  local res = redis.call('SCAN', cursor, 'MATCH', chan_ns .. '*', 'COUNT', 1000)
  cursor = res[1]
  for _, key in ipairs(res[2]) do
    local is_sub_namespace = false
    for _, ns in ipairs(sub_namespaces) do
      if has_prefix(key, ns) then
        is_sub_namespace = true
        break
      end
    end
    if not is_sub_namespace then
      table.insert(channel_ids, key:sub(#chan_ns + 1))
    end
  end
until cursor == '0'

for _, id in ipairs(channel_ids) do
  check_channel(id)
end

cursor = '0'
repeat
  local res = redis.call('SCAN', cursor, 'MATCH', prefix .. 'channel:msg:*', 'COUNT', 1000)
  cursor = res[1]
  for _, msgkey in ipairs(res[2]) do
    if not known_msgkeys[msgkey] then
      if redis.call('TYPE', msgkey)['ok'] == 'hash' then
        if redis.call('HGET', msgkey, 'unbuffered') ~= '1' then
          err('orphan message ' .. msgkey)
        end
      else
        err('orphan message ' .. msgkey .. ' has unexpected type')
      end
    end
  end
until cursor == '0'

if #errs > 0 then
  table.insert(errs, 1, ('%d channels, %d messages found, %d problems'):format(#channel_ids, known_msgs_count, #errs))
  return errs
end
return ('%d channels, %d messages, all ok'):format(#channel_ids, known_msgs_count)
`

// scriptSet holds one redis.Script per operation. Every script takes zero
// keys except GetMessageFromKey, which takes the message key as KEYS[1]
// (§6 "Argument encoding").
type scriptSet struct {
	AddFakesub           *redis.Script
	ChannelKeepalive     *redis.Script
	Delete               *redis.Script
	FindChannel          *redis.Script
	GetMessage           *redis.Script
	GetMessageFromKey    *redis.Script
	Publish              *redis.Script
	PublishStatus        *redis.Script
	Rsck                 *redis.Script
	SubscriberRegister   *redis.Script
	SubscriberUnregister *redis.Script
}

func newScriptSet() *scriptSet {
	return &scriptSet{
		AddFakesub:           redis.NewScript(0, addFakesubSrc),
		ChannelKeepalive:     redis.NewScript(0, channelKeepaliveSrc),
		Delete:               redis.NewScript(0, deleteSrc),
		FindChannel:          redis.NewScript(0, findChannelSrc),
		GetMessage:           redis.NewScript(0, getMessageSrc),
		GetMessageFromKey:    redis.NewScript(1, getMessageFromKeySrc),
		Publish:              redis.NewScript(0, publishSrc),
		PublishStatus:        redis.NewScript(0, publishStatusSrc),
		Rsck:                 redis.NewScript(0, rsckSrc),
		SubscriberRegister:   redis.NewScript(0, subscriberRegisterSrc),
		SubscriberUnregister: redis.NewScript(0, subscriberUnregisterSrc),
	}
}

func (s *scriptSet) all() map[string]*redis.Script {
	return map[string]*redis.Script{
		"add_fakesub":           s.AddFakesub,
		"channel_keepalive":     s.ChannelKeepalive,
		"delete":                s.Delete,
		"find_channel":          s.FindChannel,
		"get_message":           s.GetMessage,
		"get_message_from_key":  s.GetMessageFromKey,
		"publish":               s.Publish,
		"publish_status":        s.PublishStatus,
		"rsck":                  s.Rsck,
		"subscriber_register":   s.SubscriberRegister,
		"subscriber_unregister": s.SubscriberUnregister,
	}
}

func (s *scriptSet) loadAll(conn redis.Conn) error {
	for _, script := range s.all() {
		if err := script.Load(conn); err != nil {
			return err
		}
	}
	return nil
}

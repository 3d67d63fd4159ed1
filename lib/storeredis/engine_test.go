package storeredis

import (
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/float001/nchan/lib/store"
)

// newTestEngine spins up an in-process Redis (miniredis) and wires a
// single-shard Engine against it, mirroring how a redigo/Lua-script engine
// is exercised without a live Redis server.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	mr := miniredis.RunT(t)

	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	e, err := New(Config{
		Shards: []*ShardConfig{{
			Host:           host,
			Port:           port,
			PoolSize:       4,
			ConnectTimeout: time.Second,
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
		}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newChannelID(t *testing.T) string {
	t.Helper()
	return "test-" + uuid.NewString()
}

func TestPublishAndGetMessageRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	res, err := e.Publish(store.PublishInput{
		ChannelID:         ch,
		Time:              1700000000,
		Data:              []byte("hello"),
		ContentType:       []byte("text/plain"),
		MessageTTL:        60,
		MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)
	require.True(t, res.IsNewChannel)
	require.Equal(t, int64(0), res.AssignedID.Tag)

	got, err := e.GetMessage(store.GetMessageInput{ChannelID: ch, Order: store.FIFO})
	require.NoError(t, err)
	require.Equal(t, store.StatusOK, got.Status)
	require.Equal(t, []byte("hello"), got.Data)
	require.Equal(t, res.AssignedID, got.ID)
}

func TestPublishSameSecondIncrementsTag(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	first, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("a"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), first.AssignedID.Tag)

	second, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("b"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), second.AssignedID.Tag)
	require.True(t, first.AssignedID.Less(second.AssignedID))
}

func TestGetMessageNotYetWhenAtCurrent(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	pub, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("a"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)

	got, err := e.GetMessage(store.GetMessageInput{
		ChannelID: ch,
		Cursor:    &pub.AssignedID,
		Order:     store.FIFO,
	})
	require.NoError(t, err)
	require.Equal(t, store.StatusNotYet, got.Status)
}

func TestGetMessageNotFoundUnknownChannel(t *testing.T) {
	e := newTestEngine(t)
	got, err := e.GetMessage(store.GetMessageInput{ChannelID: newChannelID(t), Order: store.FIFO})
	require.NoError(t, err)
	require.Equal(t, store.StatusNotFound, got.Status)
}

func TestGetMessageCreatesChannelWithTTL(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	got, err := e.GetMessage(store.GetMessageInput{
		ChannelID:        ch,
		Order:            store.FIFO,
		CreateChannelTTL: 30,
	})
	require.NoError(t, err)
	require.Equal(t, store.StatusNotYet, got.Status)

	fc, err := e.FindChannel(ch)
	require.NoError(t, err)
	require.NotNil(t, fc)
}

func TestRingBufferEviction(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	for i := int64(0); i < 5; i++ {
		_, err := e.Publish(store.PublishInput{
			ChannelID:         ch,
			Time:              1700000000 + i,
			Data:              []byte("x"),
			MaxStoredMessages: store.MaxStoredMessages(3),
		})
		require.NoError(t, err)
	}

	fc, err := e.FindChannel(ch)
	require.NoError(t, err)
	require.NotNil(t, fc)
	require.Equal(t, int64(3), fc.MessageCount)
}

func TestTransientMessagesAreNeverBuffered(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	_, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("x"), MaxStoredMessages: store.Transient,
	})
	require.NoError(t, err)

	fc, err := e.FindChannel(ch)
	require.NoError(t, err)
	require.NotNil(t, fc)
	require.Equal(t, int64(0), fc.MessageCount)
}

func TestSubscriberRegisterAssignsIDAndIncrementsCount(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	first, err := e.SubscriberRegister(ch, "-", 20)
	require.NoError(t, err)
	require.NotEmpty(t, first.SubscriberID)
	require.Equal(t, int64(1), first.SubscribersTotal)

	second, err := e.SubscriberRegister(ch, "-", 20)
	require.NoError(t, err)
	require.NotEqual(t, first.SubscriberID, second.SubscriberID)
	require.Equal(t, int64(2), second.SubscribersTotal)
}

func TestSubscriberUnregisterDecrementsCount(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	reg, err := e.SubscriberRegister(ch, "-", 20)
	require.NoError(t, err)

	unreg, err := e.SubscriberUnregister(ch, reg.SubscriberID, 20)
	require.NoError(t, err)
	require.Equal(t, int64(0), unreg.SubscribersTotal)
}

func TestSubscriberUnregisterOnUnknownChannelIsNoop(t *testing.T) {
	e := newTestEngine(t)
	unreg, err := e.SubscriberUnregister(newChannelID(t), "sub-1", 20)
	require.NoError(t, err)
	require.Equal(t, int64(0), unreg.SubscribersTotal)
}

func TestChannelKeepaliveReportsNoSubscribers(t *testing.T) {
	e := newTestEngine(t)
	next, err := e.ChannelKeepalive(newChannelID(t), 20)
	require.NoError(t, err)
	require.Equal(t, int64(-1), next)
}

func TestChannelKeepaliveRefreshesTTL(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	_, err := e.SubscriberRegister(ch, "-", 20)
	require.NoError(t, err)

	next, err := e.ChannelKeepalive(ch, 30)
	require.NoError(t, err)
	require.Greater(t, next, int64(0))
}

func TestAddFakesubOnFreshChannelCreatesPlaceholder(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	cur, err := e.AddFakesub(ch, 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), cur)

	fc, err := e.FindChannel(ch)
	require.NoError(t, err)
	require.NotNil(t, fc)
	require.Equal(t, int64(5), fc.SubscribersEffective)
}

func TestAddFakesubNegativeOnMissingChannelIsNoop(t *testing.T) {
	e := newTestEngine(t)
	cur, err := e.AddFakesub(newChannelID(t), -1)
	require.NoError(t, err)
	require.Equal(t, int64(0), cur)
}

func TestDeleteReturnsSnapshotAndClearsChannel(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	_, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("x"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)

	del, err := e.Delete(ch)
	require.NoError(t, err)
	require.NotNil(t, del)
	require.Equal(t, int64(1), del.MessageCount)

	fc, err := e.FindChannel(ch)
	require.NoError(t, err)
	require.Nil(t, fc)
}

func TestDeleteOnUnknownChannelReturnsNil(t *testing.T) {
	e := newTestEngine(t)
	del, err := e.Delete(newChannelID(t))
	require.NoError(t, err)
	require.Nil(t, del)
}

func TestFindChannelUnknownReturnsNil(t *testing.T) {
	e := newTestEngine(t)
	fc, err := e.FindChannel(newChannelID(t))
	require.NoError(t, err)
	require.Nil(t, fc)
}

func TestPublishStatusBroadcastsAndReturnsSubscriberCount(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	_, err := e.SubscriberRegister(ch, "-", 20)
	require.NoError(t, err)

	subs, err := e.PublishStatus(ch, 200)
	require.NoError(t, err)
	require.Equal(t, int64(1), subs)
}

func TestPublishDuplicateMessageIsConflict(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)
	shard := e.shardFor(ch)
	conn := shard.pool.Get()
	defer conn.Close()

	_, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("a"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)

	// Forget the chain pointer so the next publish at the same second
	// recomputes tag 0 and collides with the message id that already exists.
	_, err = conn.Do("HDEL", shard.keys.Channel(ch), "current_message")
	require.NoError(t, err)

	_, err = e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("b"), MaxStoredMessages: store.Unbounded,
	})
	require.Error(t, err)
	var opErr *store.OpError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, store.KindConflict, opErr.Kind)
}

func TestGetMessageDanglingNextIsGone(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)
	shard := e.shardFor(ch)
	conn := shard.pool.Get()
	defer conn.Close()

	first, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("a"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)

	second, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000001, Data: []byte("b"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)

	// Remove the successor's message hash directly, leaving first's "next"
	// pointer dangling, as eviction without list cleanup would.
	_, err = conn.Do("DEL", shard.keys.Message(ch, second.AssignedID))
	require.NoError(t, err)

	got, err := e.GetMessage(store.GetMessageInput{
		ChannelID: ch,
		Cursor:    &first.AssignedID,
		Order:     store.FIFO,
	})
	require.NoError(t, err)
	require.Equal(t, store.StatusGone, got.Status)
}

func TestGetMessageUnknownCursorIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	_, err := e.Publish(store.PublishInput{
		ChannelID: ch, Time: 1700000000, Data: []byte("a"), MaxStoredMessages: store.Unbounded,
	})
	require.NoError(t, err)

	bogus := store.MessageID{Time: 1600000000, Tag: 0}
	got, err := e.GetMessage(store.GetMessageInput{
		ChannelID: ch,
		Cursor:    &bogus,
		Order:     store.FIFO,
	})
	require.NoError(t, err)
	require.Equal(t, store.StatusNotFound, got.Status)
}

func TestConsistencyCheckCleanStoreIsOK(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)

	for i := int64(0); i < 3; i++ {
		_, err := e.Publish(store.PublishInput{
			ChannelID: ch, Time: 1700000000 + i, Data: []byte("x"), MaxStoredMessages: store.Unbounded,
		})
		require.NoError(t, err)
	}

	report, err := e.CheckConsistency(ch)
	require.NoError(t, err)
	require.True(t, report.OK, "violations: %v", report.Violations)
}

func TestConsistencyCheckFlagsOrphanMessage(t *testing.T) {
	e := newTestEngine(t)
	ch := newChannelID(t)
	shard := e.shardFor(ch)
	conn := shard.pool.Get()
	defer conn.Close()

	orphanKey := shard.keys.Message(ch, store.MessageID{Time: 1, Tag: 0})
	_, err := conn.Do("HSET", orphanKey, "time", 1, "tag", 0, "data", "x")
	require.NoError(t, err)

	report, err := e.CheckConsistencyOnShard(0)
	require.NoError(t, err)
	require.False(t, report.OK)
	require.NotEmpty(t, report.Violations)
}

func TestShardCountSingleShard(t *testing.T) {
	e := newTestEngine(t)
	require.Equal(t, 1, e.ShardCount())
}

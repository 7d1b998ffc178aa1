package chat

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/feed"
	"github.com/periskope/periskope/internal/testutil"
	"github.com/periskope/periskope/internal/types"
)

var streamBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func messageRow(id, chatId, userId, content string, createdAt time.Time) database.Message {
	return database.Message{
		Id:         id,
		ChatId:     chatId,
		UserId:     userId,
		Content:    content,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		SenderName: "Sender " + userId,
	}
}

// eventRecorder collects stream events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []StreamEvent
}

func (r *eventRecorder) record(ev StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StreamEvent(nil), r.events...)
}

func newStream(t *testing.T, db *database.MockPeriskopeRepository, fd feed.Feed) (*StreamLoader, *eventRecorder) {
	t.Helper()
	sl := NewStreamLoader(db, fd, testutil.TestLogger(t), newTestStats())
	rec := &eventRecorder{}
	sl.SetOnEvent(rec.record)
	t.Cleanup(sl.Close)
	return sl, rec
}

func TestStreamLoader_Switch(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		messageRow("m1", "c1", "u1", "first", streamBase),
		messageRow("m2", "c1", "u2", "second", streamBase.Add(time.Minute)),
	}, nil)

	sl, rec := newStream(t, db, feed.NewMemoryFeed())

	require.NoError(t, sl.Switch(context.Background(), "c1"))
	assert.Equal(t, "c1", sl.ChatId())

	msgs := sl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].Id)
	assert.Equal(t, "m2", msgs[1].Id)
	require.NotNil(t, msgs[0].Sender)
	assert.Equal(t, "Sender u1", msgs[0].Sender.FullName)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, StreamHistory, events[0].Type)
	assert.Len(t, events[0].Messages, 2)
}

func TestStreamLoader_Append(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		messageRow("m1", "c1", "u1", "first", streamBase),
	}, nil)
	db.On("GetMessage", mock.Anything, "m2").
		Return(messageRow("m2", "c1", "u2", "second", streamBase.Add(time.Minute)), nil)

	fd := feed.NewMemoryFeed()
	sl, _ := newStream(t, db, fd)
	require.NoError(t, sl.Switch(context.Background(), "c1"))

	fd.Publish(messageEvent(t, types.Message{
		Id:        "m2",
		ChatId:    "c1",
		UserId:    "u2",
		Content:   "second",
		CreatedAt: streamBase.Add(time.Minute),
	}))

	assert.Eventually(t, func() bool {
		return len(sl.Messages()) == 2
	}, time.Second, 10*time.Millisecond)

	msgs := sl.Messages()
	assert.Equal(t, "m2", msgs[1].Id)
	require.NotNil(t, msgs[1].Sender, "sender metadata should be resolved for live messages")
	assert.Equal(t, "Sender u2", msgs[1].Sender.FullName)
}

func TestStreamLoader_DuplicateIsNoOp(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		messageRow("m1", "c1", "u1", "first", streamBase),
	}, nil)
	db.On("GetMessage", mock.Anything, "m1").
		Return(messageRow("m1", "c1", "u1", "first", streamBase), nil)
	db.On("GetMessage", mock.Anything, "m2").
		Return(messageRow("m2", "c1", "u2", "second", streamBase.Add(time.Minute)), nil)

	fd := feed.NewMemoryFeed()
	sl, _ := newStream(t, db, fd)
	require.NoError(t, sl.Switch(context.Background(), "c1"))

	// m1 raced the bulk fetch and arrives again over the feed
	fd.Publish(messageEvent(t, types.Message{Id: "m1", ChatId: "c1", Content: "first", CreatedAt: streamBase}))
	fd.Publish(messageEvent(t, types.Message{Id: "m2", ChatId: "c1", Content: "second", CreatedAt: streamBase.Add(time.Minute)}))

	assert.Eventually(t, func() bool {
		msgs := sl.Messages()
		return len(msgs) == 2 && msgs[1].Id == "m2"
	}, time.Second, 10*time.Millisecond, "duplicate insert should not grow the sequence")
}

func TestStreamLoader_OtherChatFiltered(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)
	db.On("GetMessage", mock.Anything, "m2").
		Return(messageRow("m2", "c1", "u1", "mine", streamBase), nil)

	fd := feed.NewMemoryFeed()
	sl, _ := newStream(t, db, fd)
	require.NoError(t, sl.Switch(context.Background(), "c1"))

	fd.Publish(messageEvent(t, types.Message{Id: "m1", ChatId: "c2", Content: "other chat", CreatedAt: streamBase}))
	fd.Publish(messageEvent(t, types.Message{Id: "m2", ChatId: "c1", Content: "mine", CreatedAt: streamBase}))

	assert.Eventually(t, func() bool {
		return len(sl.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "m2", sl.Messages()[0].Id)
	db.AssertNotCalled(t, "GetMessage", mock.Anything, "m1")
}

func TestStreamLoader_SwitchReplacesSequence(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		messageRow("m1", "c1", "u1", "first", streamBase),
	}, nil)
	db.On("ListMessages", mock.Anything, "c2").Return([]database.Message{
		messageRow("m9", "c2", "u2", "elsewhere", streamBase),
	}, nil)

	sl, _ := newStream(t, db, feed.NewMemoryFeed())

	require.NoError(t, sl.Switch(context.Background(), "c1"))
	require.NoError(t, sl.Switch(context.Background(), "c2"))

	msgs := sl.Messages()
	require.Len(t, msgs, 1, "switching chats must replace, never merge")
	assert.Equal(t, "m9", msgs[0].Id)
	assert.Equal(t, "c2", sl.ChatId())
}

func TestStreamLoader_PendingReconciled(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		messageRow("m1", "c1", "u1", "first", streamBase),
	}, nil)
	stored := messageRow("m2", "c1", "u1", "optimistic", streamBase.Add(time.Minute))
	stored.ClientTag = sql.NullString{String: "tag1", Valid: true}
	db.On("GetMessage", mock.Anything, "m2").Return(stored, nil)

	fd := feed.NewMemoryFeed()
	sl, rec := newStream(t, db, fd)
	require.NoError(t, sl.Switch(context.Background(), "c1"))

	sl.AddPending(types.Message{
		Id:        "pending:tag1",
		ChatId:    "c1",
		UserId:    "u1",
		Content:   "optimistic",
		ClientTag: "tag1",
		Pending:   true,
		CreatedAt: streamBase.Add(time.Minute),
	})
	require.Len(t, sl.Messages(), 2)

	fd.Publish(messageEvent(t, types.Message{
		Id:        "m2",
		ChatId:    "c1",
		Content:   "optimistic",
		ClientTag: "tag1",
		CreatedAt: streamBase.Add(time.Minute),
	}))

	assert.Eventually(t, func() bool {
		msgs := sl.Messages()
		return len(msgs) == 2 && msgs[1].Id == "m2" && !msgs[1].Pending
	}, time.Second, 10*time.Millisecond, "confirmed row should replace the pending entry in place")

	var sawUpdate bool
	for _, ev := range rec.all() {
		if ev.Type == StreamUpdate {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate, "reconciliation should emit an update, not an append")
}

func TestStreamLoader_RemovePending(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)

	sl, rec := newStream(t, db, feed.NewMemoryFeed())
	require.NoError(t, sl.Switch(context.Background(), "c1"))

	sl.AddPending(types.Message{Id: "pending:tag1", ChatId: "c1", ClientTag: "tag1", Pending: true})
	require.Len(t, sl.Messages(), 1)

	sl.RemovePending("tag1")
	assert.Empty(t, sl.Messages())

	events := rec.all()
	assert.Equal(t, StreamRemove, events[len(events)-1].Type)
}

func TestStreamLoader_ResetKeepsPending(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		messageRow("m1", "c1", "u1", "first", streamBase),
	}, nil).Once()
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		messageRow("m1", "c1", "u1", "first", streamBase),
		messageRow("m2", "c1", "u2", "missed while away", streamBase.Add(time.Minute)),
	}, nil)

	fd := feed.NewMemoryFeed()
	sl, _ := newStream(t, db, fd)
	require.NoError(t, sl.Switch(context.Background(), "c1"))

	sl.AddPending(types.Message{Id: "pending:tag1", ChatId: "c1", ClientTag: "tag1", Pending: true, Content: "unconfirmed"})

	fd.Reset()

	assert.Eventually(t, func() bool {
		return len(sl.Messages()) == 3
	}, time.Second, 10*time.Millisecond)

	msgs := sl.Messages()
	assert.Equal(t, "m2", msgs[1].Id)
	assert.True(t, msgs[2].Pending, "unconfirmed sends should survive a reload at the tail")
}

package chat

import (
	"context"
	"errors"
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

func newComposer(t *testing.T, db *database.MockPeriskopeRepository, user types.User) (*Composer, *StreamLoader) {
	t.Helper()
	sl := NewStreamLoader(db, feed.NewMemoryFeed(), testutil.TestLogger(t), newTestStats())
	t.Cleanup(sl.Close)
	return NewComposer(db, sl, testutil.TestLogger(t), newTestStats(), user), sl
}

func TestComposer_Send(t *testing.T) {
	user := types.User{Id: "u1", FullName: "Ada"}

	t.Run("empty message", func(t *testing.T) {
		db := &database.MockPeriskopeRepository{}
		c, _ := newComposer(t, db, user)

		_, err := c.Send(context.Background(), "c1", "")
		assert.ErrorIs(t, err, ErrEmptyMessage)

		_, err = c.Send(context.Background(), "c1", "   \n\t ")
		assert.ErrorIs(t, err, ErrEmptyMessage)

		db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	})

	t.Run("no user", func(t *testing.T) {
		db := &database.MockPeriskopeRepository{}
		c, _ := newComposer(t, db, types.User{})

		_, err := c.Send(context.Background(), "c1", "hello")
		assert.ErrorIs(t, err, ErrNoUser)
		db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	})

	t.Run("no chat selected", func(t *testing.T) {
		db := &database.MockPeriskopeRepository{}
		c, _ := newComposer(t, db, user)

		_, err := c.Send(context.Background(), "", "hello")
		assert.ErrorIs(t, err, ErrNoChatSelected)
		db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	})

	t.Run("success", func(t *testing.T) {
		db := &database.MockPeriskopeRepository{}
		db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)
		db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.ChatId == "c1" && p.UserId == "u1" && p.Content == "hello" && p.ClientTag != ""
		})).Return(database.Message{
			Id:        "m1",
			ChatId:    "c1",
			UserId:    "u1",
			Content:   "hello",
			CreatedAt: time.Now().UTC(),
		}, nil)

		c, sl := newComposer(t, db, user)
		require.NoError(t, sl.Switch(context.Background(), "c1"))

		msg, err := c.Send(context.Background(), "c1", "  hello  ")
		require.NoError(t, err)
		assert.Equal(t, "m1", msg.Id)
		assert.Equal(t, "hello", msg.Content, "sent text should be trimmed")

		// the optimistic entry stays until the change feed confirms it
		msgs := sl.Messages()
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Pending)
		assert.Equal(t, "Ada", msgs[0].Sender.FullName)
		db.AssertExpectations(t)
	})

	t.Run("insert failure rolls back pending", func(t *testing.T) {
		db := &database.MockPeriskopeRepository{}
		db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)
		db.On("CreateMessage", mock.Anything, mock.Anything).
			Return(database.Message{}, errors.New("insert failed"))

		c, sl := newComposer(t, db, user)
		require.NoError(t, sl.Switch(context.Background(), "c1"))

		_, err := c.Send(context.Background(), "c1", "hello")
		require.Error(t, err)
		assert.Empty(t, sl.Messages(), "failed send must not leave a phantom message")
	})
}

package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/testutil"
	"github.com/periskope/periskope/internal/types"
)

var clientBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func chatRow(id, title string, updatedAt time.Time) database.Chat {
	return database.Chat{
		Id:        id,
		Title:     title,
		ChatType:  types.ChatTypeGroup,
		UpdatedAt: updatedAt,
	}
}

// nextFrame drains the client's send channel until a frame matching the
// predicate arrives.
func nextFrame(t *testing.T, c *Client, match func(*ServerMessage) bool) *ServerMessage {
	t.Helper()
	for {
		select {
		case msg := <-c.send:
			if match(msg) {
				return msg
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frame")
			return nil
		}
	}
}

func bootstrappedClient(t *testing.T, db *database.MockPeriskopeRepository) *Client {
	t.Helper()
	cs := newTestServer(t, db)

	c := NewClient(types.User{Id: "u1", FullName: "Ada"}, nil, cs, testutil.TestLogger(t))
	require.NoError(t, c.Bootstrap(context.Background()))
	t.Cleanup(func() {
		c.roster.Close()
		c.stream.Close()
	})
	return c
}

func TestClient_Bootstrap(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{
		chatRow("c1", "Engineering", clientBase.Add(time.Minute)),
		chatRow("c2", "Support", clientBase),
	}, nil)
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{
		{Id: "m1", ChatId: "c1", UserId: "u2", Content: "hello", CreatedAt: clientBase},
	}, nil)

	c := bootstrappedClient(t, db)

	roster := nextFrame(t, c, func(m *ServerMessage) bool { return m.Roster != nil })
	assert.Len(t, roster.Roster.Chats, 2)
	assert.Equal(t, "c1", roster.Roster.SelectedId, "most recent chat should be auto-selected")

	history := nextFrame(t, c, func(m *ServerMessage) bool { return m.Stream != nil })
	assert.Equal(t, "history", string(history.Stream.Type))
	assert.Equal(t, "c1", history.Stream.ChatId)
	assert.Len(t, history.Stream.Messages, 1)
}

func TestClient_HandleSelect(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{
		chatRow("c1", "Engineering", clientBase.Add(time.Minute)),
		chatRow("c2", "Support", clientBase),
	}, nil)
	db.On("ListMessages", mock.Anything, mock.Anything).Return([]database.Message{}, nil)

	c := bootstrappedClient(t, db)

	c.handleClientMessage(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Select:      &Select{ChatId: "c2"},
	})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil && m.Id == 1 })
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode)

	selected, ok := c.roster.Selected()
	require.True(t, ok)
	assert.Equal(t, "c2", selected.Id)
	assert.Equal(t, "c2", c.stream.ChatId())
}

func TestClient_HandleSelectUnknownChat(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{}, nil)

	c := bootstrappedClient(t, db)

	c.handleClientMessage(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Select:      &Select{ChatId: "nope"},
	})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil && m.Id == 1 })
	assert.Equal(t, http.StatusNotFound, resp.Response.ResponseCode)
}

func TestClient_HandlePublish(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{
		chatRow("c1", "Engineering", clientBase),
	}, nil)
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.ChatId == "c1" && p.Content == "hello" && p.UserId == "u1"
	})).Return(database.Message{Id: "m1", ChatId: "c1", UserId: "u1", Content: "hello"}, nil)

	c := bootstrappedClient(t, db)

	// chat id omitted, the selected chat is used
	c.handleClientMessage(&ClientMessage{
		BaseMessage: BaseMessage{Id: 2},
		Publish:     &Publish{Content: "hello"},
	})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil && m.Id == 2 })
	assert.Equal(t, http.StatusAccepted, resp.Response.ResponseCode)
	db.AssertExpectations(t)
}

func TestClient_HandlePublishForeignChat(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{
		chatRow("c1", "Engineering", clientBase),
	}, nil)
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)
	db.On("IsMember", mock.Anything, "u1", "not-my-chat").Return(false, nil)

	c := bootstrappedClient(t, db)

	c.handleClientMessage(&ClientMessage{
		BaseMessage: BaseMessage{Id: 6},
		Publish:     &Publish{ChatId: "not-my-chat", Content: "hello"},
	})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil && m.Id == 6 })
	assert.Equal(t, http.StatusNotFound, resp.Response.ResponseCode)
	db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestClient_HandlePublishChatNotYetInRoster(t *testing.T) {
	// membership granted after the roster loaded; the direct check lets the
	// publish through
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{
		chatRow("c1", "Engineering", clientBase),
	}, nil)
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)
	db.On("IsMember", mock.Anything, "u1", "c2").Return(true, nil)
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.ChatId == "c2" && p.Content == "hello"
	})).Return(database.Message{Id: "m1", ChatId: "c2", UserId: "u1", Content: "hello"}, nil)

	c := bootstrappedClient(t, db)

	c.handleClientMessage(&ClientMessage{
		BaseMessage: BaseMessage{Id: 7},
		Publish:     &Publish{ChatId: "c2", Content: "hello"},
	})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil && m.Id == 7 })
	assert.Equal(t, http.StatusAccepted, resp.Response.ResponseCode)
	db.AssertExpectations(t)
}

func TestClient_HandlePublishEmpty(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{
		chatRow("c1", "Engineering", clientBase),
	}, nil)
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)

	c := bootstrappedClient(t, db)

	c.handleClientMessage(&ClientMessage{
		BaseMessage: BaseMessage{Id: 3},
		Publish:     &Publish{Content: "   "},
	})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil && m.Id == 3 })
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode)
	db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestClient_HandleSearch(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{
		chatRow("c1", "Design Review", clientBase.Add(time.Minute)),
		chatRow("c2", "Support", clientBase),
	}, nil)
	db.On("ListMessages", mock.Anything, "c1").Return([]database.Message{}, nil)

	c := bootstrappedClient(t, db)

	c.handleClientMessage(&ClientMessage{
		BaseMessage: BaseMessage{Id: 4},
		Search:      &Search{Term: "design"},
	})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil && m.Id == 4 })
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode)

	results, ok := resp.Response.Data.([]types.Chat)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Id)
}

func TestClient_HandleInvalidMessage(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	db.On("ListChatsForUser", mock.Anything, "u1").Return([]database.Chat{}, nil)

	c := bootstrappedClient(t, db)

	c.handleClientMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 5}})

	resp := nextFrame(t, c, func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode)
}

func TestClient_QueueMessageDropsWhenFull(t *testing.T) {
	db := &database.MockPeriskopeRepository{}
	cs := newTestServer(t, db)
	c := NewClient(types.User{Id: "u1"}, nil, cs, testutil.TestLogger(t))

	for i := 0; i < cap(c.send); i++ {
		require.True(t, c.QueueMessage(NoErrOK(i, nil)))
	}

	assert.False(t, c.QueueMessage(NoErrOK(0, nil)), "a full send buffer must not block")
}

package server

import (
	"net/http"
	"time"

	"github.com/periskope/periskope/internal/chat"
	"github.com/periskope/periskope/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Select  *Select  `json:"select,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	Search  *Search  `json:"search,omitempty"`
}

// Select makes a chat the active one; its history replaces the stream.
type Select struct {
	ChatId string `json:"chat_id"`
}

// Publish sends a message to a chat.
type Publish struct {
	ChatId  string `json:"chat_id"`
	Content string `json:"content"`
}

// Search filters the roster by title.
type Search struct {
	Term string `json:"term"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response     `json:"response,omitempty"`
	Roster   *RosterUpdate `json:"roster,omitempty"`
	Stream   *StreamUpdate `json:"stream,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// RosterUpdate carries the full roster snapshot, newest activity first.
type RosterUpdate struct {
	Chats      []types.Chat `json:"chats"`
	SelectedId string       `json:"selected_id,omitempty"`
}

// StreamUpdate carries a mutation of the active chat's message sequence.
type StreamUpdate struct {
	Type     chat.StreamEventType `json:"type"`
	ChatId   string               `json:"chat_id"`
	Messages []types.Message      `json:"messages,omitempty"`
	Message  *types.Message       `json:"message,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrChatNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "chat not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrEmptyPublish(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "message is empty",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

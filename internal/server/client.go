package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/periskope/periskope/internal/chat"
	"github.com/periskope/periskope/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096

	bootstrapTimeout = 10 * time.Second
)

// Client is one websocket connection. Each client carries its own roster and
// stream loaders; their change callbacks are queued onto the send channel
// and pushed by the write pump.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	roster     *chat.RosterLoader
	stream     *chat.StreamLoader
	composer   *chat.Composer
	stop       chan struct{}
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	c := &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}

	c.roster = chat.NewRosterLoader(cs.db, cs.feed, l, cs.stats)
	c.stream = chat.NewStreamLoader(cs.db, cs.feed, l, cs.stats)
	c.composer = chat.NewComposer(cs.db, c.stream, l, cs.stats, user)

	c.roster.SetOnChange(func(chats []types.Chat, selectedId string) {
		c.QueueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Roster:      &RosterUpdate{Chats: chats, SelectedId: selectedId},
		})
	})
	c.stream.SetOnEvent(func(ev chat.StreamEvent) {
		c.QueueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Stream: &StreamUpdate{
				Type:     ev.Type,
				ChatId:   ev.ChatId,
				Messages: ev.Messages,
				Message:  ev.Message,
			},
		})
	})

	return c
}

// Bootstrap loads the roster and, if a chat was auto-selected, its history.
// The initial snapshots reach the connection through the loader callbacks.
func (c *Client) Bootstrap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	if err := c.roster.Start(ctx, c.user.Id); err != nil {
		return err
	}

	if selected, ok := c.roster.Selected(); ok {
		if err := c.stream.Switch(ctx, selected.Id); err != nil {
			// the roster is still usable; the user sees an empty detail pane
			c.log.Println("bootstrap stream:", err)
		}
	}

	return nil
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.QueueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.Timestamp = Now()
		c.handleClientMessage(&msg)
	}
}

func (c *Client) handleClientMessage(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	switch {
	case msg.Select != nil:
		c.handleSelect(ctx, msg)
	case msg.Publish != nil:
		c.handlePublish(ctx, msg)
	case msg.Search != nil:
		results := c.roster.Search(msg.Search.Term)
		c.QueueMessage(NoErrOK(msg.Id, results))
	default:
		c.QueueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) handleSelect(ctx context.Context, msg *ClientMessage) {
	if err := c.roster.Select(msg.Select.ChatId); err != nil {
		c.QueueMessage(ErrChatNotFound(msg.Id))
		return
	}

	if err := c.stream.Switch(ctx, msg.Select.ChatId); err != nil {
		c.log.Println("switch chat:", err)
		c.QueueMessage(ErrInternalError(msg.Id))
		return
	}

	c.QueueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handlePublish(ctx context.Context, msg *ClientMessage) {
	chatId := msg.Publish.ChatId
	if chatId == "" {
		if selected, ok := c.roster.Selected(); ok {
			chatId = selected.Id
		}
	} else if !c.roster.Has(chatId) {
		// the roster can lag a membership the user was just granted, so an
		// unknown chat falls back to a direct membership check
		member, err := c.chatServer.db.IsMember(ctx, c.user.Id, chatId)
		if err != nil {
			c.log.Println("publish membership check:", err)
			c.QueueMessage(ErrInternalError(msg.Id))
			return
		}
		if !member {
			c.QueueMessage(ErrChatNotFound(msg.Id))
			return
		}
	}

	_, err := c.composer.Send(ctx, chatId, msg.Publish.Content)
	switch {
	case err == nil:
		c.QueueMessage(NoErrAccepted(msg.Id))
	case errors.Is(err, chat.ErrEmptyMessage):
		c.QueueMessage(ErrEmptyPublish(msg.Id))
	case errors.Is(err, chat.ErrNoChatSelected), errors.Is(err, chat.ErrUnknownChat):
		c.QueueMessage(ErrChatNotFound(msg.Id))
	default:
		c.log.Println("publish:", err)
		c.QueueMessage(ErrInternalError(msg.Id))
	}
}

func (c *Client) QueueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Client) cleanup() {
	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.stop:
		// server is shutting down and no longer draining deregistrations
	}
	c.roster.Close()
	c.stream.Close()
	c.stopClient()
}

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/feed"
	"github.com/periskope/periskope/internal/stats"
	"github.com/periskope/periskope/internal/types"
)

type StreamEventType string

const (
	// StreamHistory replaces the whole visible sequence (chat switch or
	// reload after a feed reset).
	StreamHistory StreamEventType = "history"
	// StreamAppend adds one message at the end.
	StreamAppend StreamEventType = "append"
	// StreamUpdate replaces one message in place (a pending send confirmed).
	StreamUpdate StreamEventType = "update"
	// StreamRemove drops one message (a pending send that failed).
	StreamRemove StreamEventType = "remove"
)

type StreamEvent struct {
	Type     StreamEventType
	ChatId   string
	Messages []types.Message
	Message  *types.Message
}

// StreamLoader holds the full ordered message history of the active chat and
// appends live inserts as they arrive. The sequence is keyed by message id,
// so an event that races the bulk fetch is a no-op instead of a duplicate.
// Switching chats replaces the sequence, never merges.
type StreamLoader struct {
	db    database.PeriskopeRepository
	feed  feed.Feed
	log   *log.Logger
	stats stats.StatsProvider

	mu       sync.Mutex
	chatId   string
	messages []types.Message
	index    map[string]struct{} // confirmed message ids
	sub      *feed.Subscription
	onEvent  func(StreamEvent)
}

func NewStreamLoader(db database.PeriskopeRepository, fd feed.Feed, logger *log.Logger, sp stats.StatsProvider) *StreamLoader {
	return &StreamLoader{
		db:    db,
		feed:  fd,
		log:   logger,
		stats: sp,
		index: make(map[string]struct{}),
	}
}

// SetOnEvent registers the callback fired after every sequence mutation.
// Must be called before Switch.
func (sl *StreamLoader) SetOnEvent(fn func(StreamEvent)) {
	sl.onEvent = fn
}

// Switch makes chatId the active chat: the previous subscription is torn
// down, the sequence is replaced with the chat's full history, and a new
// filtered subscription takes over. Subscribing happens before the fetch so
// an insert arriving during the fetch is not lost; the id index absorbs the
// overlap.
func (sl *StreamLoader) Switch(ctx context.Context, chatId string) error {
	sl.mu.Lock()
	if sl.sub != nil {
		sl.sub.Close()
		sl.sub = nil
	}
	sl.chatId = chatId
	sl.messages = nil
	sl.index = make(map[string]struct{})
	sl.mu.Unlock()

	sub, err := sl.feed.Subscribe("messages", &feed.Filter{Column: "chat_id", Value: chatId})
	if err != nil {
		return fmt.Errorf("subscribe to chat %s: %w", chatId, err)
	}

	history, err := sl.fetchHistory(ctx, chatId)
	if err != nil {
		sub.Close()
		return err
	}

	sl.mu.Lock()
	if sl.chatId != chatId {
		// another switch happened while we were fetching; this result is
		// stale and must not clobber the newer chat's state
		sl.mu.Unlock()
		sub.Close()
		return nil
	}
	sl.sub = sub
	sl.messages = history
	for _, m := range history {
		sl.index[m.Id] = struct{}{}
	}
	fn := sl.onEvent
	snapshot := sl.messagesLocked()
	sl.mu.Unlock()

	go sl.loop(sub, chatId)

	if fn != nil {
		fn(StreamEvent{Type: StreamHistory, ChatId: chatId, Messages: snapshot})
	}

	return nil
}

// ChatId returns the active chat id, or empty if none.
func (sl *StreamLoader) ChatId() string {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.chatId
}

// Messages returns the visible sequence, oldest first.
func (sl *StreamLoader) Messages() []types.Message {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.messagesLocked()
}

// AddPending appends an optimistic, not yet confirmed message. It is
// replaced in place when the change feed echoes the stored row carrying the
// same client tag.
func (sl *StreamLoader) AddPending(msg types.Message) {
	sl.mu.Lock()
	if msg.ChatId != sl.chatId {
		sl.mu.Unlock()
		return
	}

	sl.messages = append(sl.messages, msg)
	fn := sl.onEvent
	sl.mu.Unlock()

	if fn != nil {
		fn(StreamEvent{Type: StreamAppend, ChatId: msg.ChatId, Message: &msg})
	}
}

// RemovePending drops the pending message with the given client tag, used
// when the insert failed.
func (sl *StreamLoader) RemovePending(clientTag string) {
	sl.mu.Lock()
	var removed *types.Message
	for i, m := range sl.messages {
		if m.Pending && m.ClientTag == clientTag {
			removed = &m
			sl.messages = append(sl.messages[:i], sl.messages[i+1:]...)
			break
		}
	}
	fn := sl.onEvent
	chatId := sl.chatId
	sl.mu.Unlock()

	if removed != nil && fn != nil {
		fn(StreamEvent{Type: StreamRemove, ChatId: chatId, Message: removed})
	}
}

func (sl *StreamLoader) Close() {
	sl.mu.Lock()
	if sl.sub != nil {
		sl.sub.Close()
		sl.sub = nil
	}
	sl.mu.Unlock()
}

func (sl *StreamLoader) fetchHistory(ctx context.Context, chatId string) ([]types.Message, error) {
	dbMsgs, err := sl.db.ListMessages(ctx, chatId)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	history := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		history = append(history, MessageFromRow(m))
	}

	return history, nil
}

// loop drains one subscription. It ends when the subscription is closed by
// the next Switch or by Close.
func (sl *StreamLoader) loop(sub *feed.Subscription, chatId string) {
	for ev := range sub.Events() {
		sl.handleEvent(chatId, ev)
	}
}

func (sl *StreamLoader) handleEvent(chatId string, ev feed.Event) {
	sl.stats.Incr(stats.MetricFeedEvents)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch ev.Type {
	case feed.EventReset:
		sl.reload(ctx, chatId)
	case feed.EventInsert:
		var msg types.Message
		if err := json.Unmarshal(ev.New, &msg); err != nil {
			sl.log.Println("stream: bad message payload:", err)
			return
		}
		if msg.ChatId != chatId {
			return
		}
		sl.apply(ctx, chatId, msg)
	}
}

// apply resolves the sender's display metadata and folds the message into
// the sequence: a duplicate id is dropped, a matching pending entry is
// replaced in place, anything else is appended in delivery order.
func (sl *StreamLoader) apply(ctx context.Context, chatId string, msg types.Message) {
	full, err := sl.db.GetMessage(ctx, msg.Id)
	if err != nil {
		// show the message without sender metadata rather than not at all
		sl.log.Println("stream: resolve sender:", err)
	} else {
		msg = MessageFromRow(full)
	}

	sl.mu.Lock()
	if sl.chatId != chatId {
		// event outlived a chat switch
		sl.mu.Unlock()
		return
	}

	if _, ok := sl.index[msg.Id]; ok {
		sl.mu.Unlock()
		return
	}

	sl.index[msg.Id] = struct{}{}

	if msg.ClientTag != "" {
		for i, m := range sl.messages {
			if m.Pending && m.ClientTag == msg.ClientTag {
				sl.messages[i] = msg
				fn := sl.onEvent
				sl.mu.Unlock()
				if fn != nil {
					fn(StreamEvent{Type: StreamUpdate, ChatId: chatId, Message: &msg})
				}
				return
			}
		}
	}

	sl.messages = append(sl.messages, msg)
	fn := sl.onEvent
	sl.mu.Unlock()

	if fn != nil {
		fn(StreamEvent{Type: StreamAppend, ChatId: chatId, Message: &msg})
	}
}

func (sl *StreamLoader) reload(ctx context.Context, chatId string) {
	history, err := sl.fetchHistory(ctx, chatId)
	if err != nil {
		sl.log.Println("stream reload after reset:", err)
		return
	}

	sl.mu.Lock()
	if sl.chatId != chatId {
		sl.mu.Unlock()
		return
	}

	// keep unconfirmed sends at the tail, everything else comes from the
	// fresh fetch
	var pending []types.Message
	for _, m := range sl.messages {
		if m.Pending {
			pending = append(pending, m)
		}
	}

	sl.messages = append(history, pending...)
	sl.index = make(map[string]struct{}, len(history))
	for _, m := range history {
		sl.index[m.Id] = struct{}{}
	}
	fn := sl.onEvent
	snapshot := sl.messagesLocked()
	sl.mu.Unlock()

	if fn != nil {
		fn(StreamEvent{Type: StreamHistory, ChatId: chatId, Messages: snapshot})
	}
}

func (sl *StreamLoader) messagesLocked() []types.Message {
	msgs := make([]types.Message, len(sl.messages))
	copy(msgs, sl.messages)
	return msgs
}

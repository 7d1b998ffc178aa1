package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/feed"
	"github.com/periskope/periskope/internal/stats"
	"github.com/periskope/periskope/internal/types"
)

const eventTimeout = 5 * time.Second

// RosterLoader keeps the set of chats the user belongs to, newest activity
// first. The roster is a keyed cache: message events patch the one affected
// chat in place, and a full refetch happens only when the cache cannot decide
// (a chat it has never seen, or a feed reset).
type RosterLoader struct {
	db    database.PeriskopeRepository
	feed  feed.Feed
	log   *log.Logger
	stats stats.StatsProvider

	mu         sync.Mutex
	userId     string
	chats      map[string]types.Chat
	order      []string // chat ids, most recently updated first
	selectedId string
	onChange   func(chats []types.Chat, selectedId string)

	sub     *feed.Subscription
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func NewRosterLoader(db database.PeriskopeRepository, fd feed.Feed, logger *log.Logger, sp stats.StatsProvider) *RosterLoader {
	return &RosterLoader{
		db:    db,
		feed:  fd,
		log:   logger,
		stats: sp,
		chats: make(map[string]types.Chat),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// SetOnChange registers the callback fired after every roster mutation. Must
// be called before Start.
func (rl *RosterLoader) SetOnChange(fn func(chats []types.Chat, selectedId string)) {
	rl.onChange = fn
}

// Start loads the roster and begins applying message events. The
// subscription is established before the initial fetch so no event falls
// into the gap.
func (rl *RosterLoader) Start(ctx context.Context, userId string) error {
	rl.mu.Lock()
	rl.userId = userId
	rl.mu.Unlock()

	sub, err := rl.feed.Subscribe("messages", nil)
	if err != nil {
		return fmt.Errorf("subscribe to messages: %w", err)
	}
	rl.mu.Lock()
	rl.sub = sub
	rl.mu.Unlock()

	if err := rl.Load(ctx); err != nil {
		sub.Close()
		return err
	}

	rl.mu.Lock()
	rl.started = true
	rl.mu.Unlock()
	go rl.loop(sub)

	return nil
}

// Load refetches the whole roster and rebuilds the cache. The selection is
// kept if the chat is still present, otherwise the most recently updated
// chat is selected; an empty roster selects nothing.
func (rl *RosterLoader) Load(ctx context.Context) error {
	rl.mu.Lock()
	userId := rl.userId
	rl.mu.Unlock()

	dbChats, err := rl.db.ListChatsForUser(ctx, userId)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	rl.stats.Incr(stats.MetricRosterRefreshes)

	rl.mu.Lock()
	rl.chats = make(map[string]types.Chat, len(dbChats))
	rl.order = rl.order[:0]
	for _, c := range dbChats {
		tc := ChatFromRow(c)
		rl.chats[tc.Id] = tc
		rl.order = append(rl.order, tc.Id)
	}

	if rl.selectedId != "" {
		if _, ok := rl.chats[rl.selectedId]; !ok {
			rl.selectedId = ""
		}
	}
	if rl.selectedId == "" && len(rl.order) > 0 {
		rl.selectedId = rl.order[0]
	}
	rl.notifyLocked()

	return nil
}

// Chats returns the roster ordered by most recent activity.
func (rl *RosterLoader) Chats() []types.Chat {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.chatsLocked()
}

// Has reports whether the chat is in the roster.
func (rl *RosterLoader) Has(chatId string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	_, ok := rl.chats[chatId]
	return ok
}

// Selected returns the currently selected chat, if any.
func (rl *RosterLoader) Selected() (types.Chat, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.selectedId == "" {
		return types.Chat{}, false
	}

	c, ok := rl.chats[rl.selectedId]
	return c, ok
}

// Select makes the given chat the active one.
func (rl *RosterLoader) Select(chatId string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.chats[chatId]; !ok {
		return ErrUnknownChat
	}

	rl.selectedId = chatId
	return nil
}

// Search filters the roster by a case-insensitive substring match on the
// title, preserving order. An empty term returns the full roster.
func (rl *RosterLoader) Search(term string) []types.Chat {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if term == "" {
		return rl.chatsLocked()
	}

	term = strings.ToLower(term)
	var matched []types.Chat
	for _, id := range rl.order {
		c := rl.chats[id]
		if strings.Contains(strings.ToLower(c.Title), term) {
			matched = append(matched, c)
		}
	}

	return matched
}

func (rl *RosterLoader) Close() {
	select {
	case <-rl.stop:
		return
	default:
	}

	close(rl.stop)

	rl.mu.Lock()
	sub := rl.sub
	started := rl.started
	rl.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if started {
		<-rl.done
	}
}

func (rl *RosterLoader) loop(sub *feed.Subscription) {
	defer close(rl.done)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			rl.handleEvent(ev)
		case <-rl.stop:
			return
		}
	}
}

func (rl *RosterLoader) handleEvent(ev feed.Event) {
	rl.stats.Incr(stats.MetricFeedEvents)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch ev.Type {
	case feed.EventReset:
		// continuity lost, the cache may be stale in ways a patch can't fix
		if err := rl.Load(ctx); err != nil {
			rl.log.Println("roster reload after reset:", err)
		}
	case feed.EventInsert:
		var msg types.Message
		if err := json.Unmarshal(ev.New, &msg); err != nil {
			rl.log.Println("roster: bad message payload:", err)
			return
		}
		rl.applyMessage(ctx, msg)
	}
}

// applyMessage patches the affected chat's preview fields and re-sorts. A
// message for a chat not in the cache belongs either to a chat this user was
// just added to or to someone else's chat entirely; membership decides.
func (rl *RosterLoader) applyMessage(ctx context.Context, msg types.Message) {
	rl.mu.Lock()
	c, ok := rl.chats[msg.ChatId]
	if ok {
		c.LastMessage = msg.Content
		t := msg.CreatedAt
		c.LastMessageTime = &t
		c.UpdatedAt = msg.CreatedAt
		rl.chats[msg.ChatId] = c
		rl.resortLocked()
		rl.notifyLocked()
		return
	}
	userId := rl.userId
	rl.mu.Unlock()

	member, err := rl.db.IsMember(ctx, userId, msg.ChatId)
	if err != nil {
		rl.log.Println("roster: membership check:", err)
		return
	}
	if !member {
		return
	}

	dbChat, err := rl.db.GetChat(ctx, msg.ChatId)
	if err != nil {
		rl.log.Println("roster: fetch new chat:", err)
		return
	}

	rl.mu.Lock()
	tc := ChatFromRow(dbChat)
	rl.chats[tc.Id] = tc
	rl.order = append(rl.order, tc.Id)
	rl.resortLocked()
	if rl.selectedId == "" {
		rl.selectedId = rl.order[0]
	}
	rl.notifyLocked()
}

func (rl *RosterLoader) chatsLocked() []types.Chat {
	chats := make([]types.Chat, 0, len(rl.order))
	for _, id := range rl.order {
		chats = append(chats, rl.chats[id])
	}
	return chats
}

func (rl *RosterLoader) resortLocked() {
	sort.SliceStable(rl.order, func(i, j int) bool {
		return rl.chats[rl.order[i]].UpdatedAt.After(rl.chats[rl.order[j]].UpdatedAt)
	})
}

// notifyLocked fires the change callback and releases the lock.
func (rl *RosterLoader) notifyLocked() {
	fn := rl.onChange
	chats := rl.chatsLocked()
	selectedId := rl.selectedId
	rl.mu.Unlock()

	if fn != nil {
		fn(chats, selectedId)
	}
}

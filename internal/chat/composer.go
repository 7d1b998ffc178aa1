package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/teris-io/shortid"

	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/stats"
	"github.com/periskope/periskope/internal/types"
)

// Composer validates and sends messages for one user. A send is optimistic:
// a pending entry appears in the stream immediately and is reconciled when
// the change feed confirms the stored row. A failed insert rolls the pending
// entry back and returns the error, so a failed send never looks like a
// successful one.
type Composer struct {
	db     database.PeriskopeRepository
	stream *StreamLoader
	log    *log.Logger
	stats  stats.StatsProvider
	user   types.User
}

func NewComposer(db database.PeriskopeRepository, stream *StreamLoader, logger *log.Logger, sp stats.StatsProvider, user types.User) *Composer {
	return &Composer{
		db:     db,
		stream: stream,
		log:    logger,
		stats:  sp,
		user:   user,
	}
}

// Send inserts a message into the given chat. Empty or whitespace-only text
// is rejected before any insert is attempted.
func (c *Composer) Send(ctx context.Context, chatId, text string) (types.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Message{}, ErrEmptyMessage
	}
	if c.user.Id == "" {
		return types.Message{}, ErrNoUser
	}
	if chatId == "" {
		return types.Message{}, ErrNoChatSelected
	}

	tag, err := shortid.Generate()
	if err != nil {
		return types.Message{}, fmt.Errorf("generate client tag: %w", err)
	}

	pending := types.Message{
		Id:        "pending:" + tag,
		ChatId:    chatId,
		UserId:    c.user.Id,
		Content:   text,
		ClientTag: tag,
		Pending:   true,
		Sender: &types.Sender{
			FullName:  c.user.FullName,
			AvatarUrl: c.user.AvatarUrl,
		},
		CreatedAt: time.Now().UTC(),
	}
	c.stream.AddPending(pending)

	msg, err := c.db.CreateMessage(ctx, database.CreateMessageParams{
		ChatId:    chatId,
		UserId:    c.user.Id,
		Content:   text,
		IsRead:    false,
		ClientTag: tag,
	})
	if err != nil {
		c.stream.RemovePending(tag)
		return types.Message{}, fmt.Errorf("send message: %w", err)
	}

	c.stats.Incr(stats.MetricMessagesSent)

	return MessageFromRow(msg), nil
}

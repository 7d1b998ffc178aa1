package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const messageColumns = "m.id, m.chat_id, m.user_id, m.content, m.is_read, " +
	"m.attachment_url, m.attachment_type, m.client_tag, m.created_at, m.updated_at"

func (db *PgPeriskopeRepository) CreateProfile(ctx context.Context, params CreateProfileParams) (Profile, error) {
	id := params.Id
	if id == "" {
		id = uuid.NewString()
	}

	// Concurrent first visits by the same identity race on the insert; the
	// conflict clause makes the second insert return the winner's row instead
	// of a duplicate key error.
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO profiles (id, full_name, email, avatar_url, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $6) "+
			"ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id "+
			"RETURNING id, full_name, email, avatar_url, created_at, updated_at",
		id,
		params.FullName,
		params.Email,
		params.AvatarUrl,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var p Profile
	err := res.Scan(
		&p.Id,
		&p.FullName,
		&p.Email,
		&p.AvatarUrl,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

func (db *PgPeriskopeRepository) GetProfile(ctx context.Context, id string) (Profile, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, full_name, email, avatar_url, created_at, updated_at FROM profiles "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var p Profile
	err := row.Scan(
		&p.Id,
		&p.FullName,
		&p.Email,
		&p.AvatarUrl,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

func (db *PgPeriskopeRepository) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, full_name, email, avatar_url, password_hash, created_at, updated_at FROM profiles "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var p Profile
	err := row.Scan(
		&p.Id,
		&p.FullName,
		&p.Email,
		&p.AvatarUrl,
		&p.PasswordHash,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

func (db *PgPeriskopeRepository) ListChatsForUser(ctx context.Context, userId string) ([]Chat, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT c.id, c.title, c.chat_type, c.last_message, c.last_message_time, "+
			"c.is_demo, c.is_internal, c.is_signup, c.is_content, c.dont_send, c.created_at, c.updated_at "+
			"FROM chats c JOIN chat_members cm ON cm.chat_id = c.id "+
			"WHERE cm.user_id = $1 ORDER BY c.updated_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err = rows.Scan(
			&c.Id,
			&c.Title,
			&c.ChatType,
			&c.LastMessage,
			&c.LastMessageTime,
			&c.IsDemo,
			&c.IsInternal,
			&c.IsSignup,
			&c.IsContent,
			&c.DontSend,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			break
		}

		chats = append(chats, c)
	}

	return chats, err
}

func (db *PgPeriskopeRepository) CreateChat(ctx context.Context, params CreateChatParams) (Chat, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRowContext(ctx,
		"INSERT INTO chats (id, title, chat_type, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) "+
			"RETURNING id, title, chat_type, created_at, updated_at",
		uuid.NewString(),
		params.Title,
		params.ChatType,
		time.Now().UTC(),
	)

	var chat Chat
	err = res.Scan(
		&chat.Id,
		&chat.Title,
		&chat.ChatType,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return Chat{}, err
	}

	// the creator becomes the chat's admin
	_, err = tx.ExecContext(ctx,
		"INSERT INTO chat_members (id, chat_id, user_id, role, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5)",
		uuid.NewString(),
		chat.Id,
		params.CreatorId,
		"admin",
		time.Now().UTC(),
	)
	if err != nil {
		return Chat{}, err
	}

	if err = tx.Commit(); err != nil {
		return Chat{}, err
	}

	return chat, err
}

func (db *PgPeriskopeRepository) GetChat(ctx context.Context, id string) (Chat, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, title, chat_type, last_message, last_message_time, "+
			"is_demo, is_internal, is_signup, is_content, dont_send, created_at, updated_at "+
			"FROM chats WHERE id = $1 LIMIT 1",
		id,
	)

	var c Chat
	err := row.Scan(
		&c.Id,
		&c.Title,
		&c.ChatType,
		&c.LastMessage,
		&c.LastMessageTime,
		&c.IsDemo,
		&c.IsInternal,
		&c.IsSignup,
		&c.IsContent,
		&c.DontSend,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	return c, err
}

func (db *PgPeriskopeRepository) IsMember(ctx context.Context, userId, chatId string) (bool, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM chat_members WHERE user_id = $1 AND chat_id = $2)",
		userId,
		chatId,
	)

	var exists bool
	err := row.Scan(&exists)

	return exists, err
}

func (db *PgPeriskopeRepository) ListMessages(ctx context.Context, chatId string) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+", p.full_name, p.avatar_url "+
			"FROM messages m JOIN profiles p ON m.user_id = p.id "+
			"WHERE m.chat_id = $1 ORDER BY m.created_at ASC",
		chatId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err = rows.Scan(
			&m.Id,
			&m.ChatId,
			&m.UserId,
			&m.Content,
			&m.IsRead,
			&m.AttachmentUrl,
			&m.AttachmentType,
			&m.ClientTag,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.SenderName,
			&m.SenderAvatar,
		); err != nil {
			break
		}

		messages = append(messages, m)
	}

	return messages, err
}

func (db *PgPeriskopeRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+", p.full_name, p.avatar_url "+
			"FROM messages m JOIN profiles p ON m.user_id = p.id "+
			"WHERE m.id = $1 LIMIT 1",
		id,
	)

	var m Message
	err := row.Scan(
		&m.Id,
		&m.ChatId,
		&m.UserId,
		&m.Content,
		&m.IsRead,
		&m.AttachmentUrl,
		&m.AttachmentType,
		&m.ClientTag,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.SenderName,
		&m.SenderAvatar,
	)

	return m, err
}

func (db *PgPeriskopeRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRowContext(ctx,
		"INSERT INTO messages (id, chat_id, user_id, content, is_read, attachment_url, attachment_type, client_tag, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $9) "+
			"RETURNING id, chat_id, user_id, content, is_read, attachment_url, attachment_type, client_tag, created_at, updated_at",
		uuid.NewString(),
		params.ChatId,
		params.UserId,
		params.Content,
		params.IsRead,
		params.AttachmentUrl,
		params.AttachmentType,
		params.ClientTag,
		now,
	)

	var m Message
	err = res.Scan(
		&m.Id,
		&m.ChatId,
		&m.UserId,
		&m.Content,
		&m.IsRead,
		&m.AttachmentUrl,
		&m.AttachmentType,
		&m.ClientTag,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	// keep the denormalized preview fields on the chat in step with the
	// message insert
	_, err = tx.ExecContext(ctx,
		"UPDATE chats SET last_message = $2, last_message_time = $3, updated_at = $3 WHERE id = $1",
		params.ChatId,
		params.Content,
		now,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return m, err
}

func (db *PgPeriskopeRepository) ListLabelsForChat(ctx context.Context, chatId string) ([]Label, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT l.id, l.name, l.color, l.created_at, l.updated_at "+
			"FROM labels l JOIN chat_labels cl ON cl.label_id = l.id "+
			"WHERE cl.chat_id = $1",
		chatId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []Label
	for rows.Next() {
		var l Label
		if err = rows.Scan(&l.Id, &l.Name, &l.Color, &l.CreatedAt, &l.UpdatedAt); err != nil {
			break
		}

		labels = append(labels, l)
	}

	return labels, err
}

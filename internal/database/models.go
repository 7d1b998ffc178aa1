package database

import (
	"database/sql"
	"time"
)

type Profile struct {
	Id           string
	FullName     string
	Email        string
	AvatarUrl    sql.NullString
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Chat struct {
	Id              string
	Title           string
	ChatType        string
	LastMessage     sql.NullString
	LastMessageTime sql.NullTime
	IsDemo          bool
	IsInternal      bool
	IsSignup        bool
	IsContent       bool
	DontSend        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ChatMember struct {
	Id        string
	ChatId    string
	UserId    string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id             string
	ChatId         string
	UserId         string
	Content        string
	IsRead         bool
	AttachmentUrl  sql.NullString
	AttachmentType sql.NullString
	ClientTag      sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// SenderName and SenderAvatar are only populated by queries which join
	// messages with the sender's profile.
	SenderName   string
	SenderAvatar sql.NullString
}

type Label struct {
	Id        string
	Name      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateProfileParams struct {
	Id           string
	FullName     string
	Email        string
	AvatarUrl    string
	PasswordHash string
}

type CreateChatParams struct {
	Title     string `json:"title"`
	ChatType  string `json:"chat_type"`
	CreatorId string `json:"-"`
}

type CreateMessageParams struct {
	ChatId         string
	UserId         string
	Content        string
	IsRead         bool
	AttachmentUrl  string
	AttachmentType string
	ClientTag      string
}

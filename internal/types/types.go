package types

import (
	"time"
)

const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"

	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	Id        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	AvatarUrl string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Chat struct {
	Id              string     `json:"id"`
	Title           string     `json:"title"`
	ChatType        string     `json:"chat_type"`
	LastMessage     string     `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	IsDemo          bool       `json:"is_demo,omitempty"`
	IsInternal      bool       `json:"is_internal,omitempty"`
	IsSignup        bool       `json:"is_signup,omitempty"`
	IsContent       bool       `json:"is_content,omitempty"`
	DontSend        bool       `json:"dont_send,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

type ChatMember struct {
	Id        string    `json:"id"`
	ChatId    string    `json:"chat_id"`
	UserId    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Sender is the subset of a profile joined onto a message for display.
type Sender struct {
	FullName  string `json:"full_name"`
	AvatarUrl string `json:"avatar_url,omitempty"`
}

type Message struct {
	Id             string `json:"id"`
	ChatId         string `json:"chat_id"`
	UserId         string `json:"user_id"`
	Content        string `json:"content"`
	IsRead         bool   `json:"is_read"`
	AttachmentUrl  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	// ClientTag is set by the sender on optimistic sends and echoed back by
	// the change feed so the pending entry can be reconciled with the stored
	// row.
	ClientTag string    `json:"client_tag,omitempty"`
	Pending   bool      `json:"pending,omitempty"`
	Sender    *Sender   `json:"sender,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Label struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

package database

import "context"

type PeriskopeRepository interface {
	Ping(ctx context.Context) error
	CreateProfile(ctx context.Context, params CreateProfileParams) (Profile, error)
	GetProfile(ctx context.Context, id string) (Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)
	ListChatsForUser(ctx context.Context, userId string) ([]Chat, error)
	CreateChat(ctx context.Context, params CreateChatParams) (Chat, error)
	GetChat(ctx context.Context, id string) (Chat, error)
	IsMember(ctx context.Context, userId, chatId string) (bool, error)
	ListMessages(ctx context.Context, chatId string) ([]Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	ListLabelsForChat(ctx context.Context, chatId string) ([]Label, error)
}

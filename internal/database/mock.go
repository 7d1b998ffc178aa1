package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockPeriskopeRepository struct {
	mock.Mock
}

func (m *MockPeriskopeRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockPeriskopeRepository) CreateProfile(ctx context.Context, params CreateProfileParams) (Profile, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockPeriskopeRepository) GetProfile(ctx context.Context, id string) (Profile, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockPeriskopeRepository) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockPeriskopeRepository) ListChatsForUser(ctx context.Context, userId string) ([]Chat, error) {
	args := m.Called(ctx, userId)
	if chats, ok := args.Get(0).([]Chat); ok {
		return chats, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockPeriskopeRepository) CreateChat(ctx context.Context, params CreateChatParams) (Chat, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockPeriskopeRepository) GetChat(ctx context.Context, id string) (Chat, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockPeriskopeRepository) IsMember(ctx context.Context, userId, chatId string) (bool, error) {
	args := m.Called(ctx, userId, chatId)
	return args.Bool(0), args.Error(1)
}
func (m *MockPeriskopeRepository) ListMessages(ctx context.Context, chatId string) ([]Message, error) {
	args := m.Called(ctx, chatId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockPeriskopeRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockPeriskopeRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockPeriskopeRepository) ListLabelsForChat(ctx context.Context, chatId string) ([]Label, error) {
	args := m.Called(ctx, chatId)
	if labels, ok := args.Get(0).([]Label); ok {
		return labels, args.Error(1)
	}
	return nil, args.Error(1)
}

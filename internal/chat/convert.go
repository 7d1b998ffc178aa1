package chat

import (
	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/types"
)

func UserFromProfile(p database.Profile) types.User {
	return types.User{
		Id:        p.Id,
		FullName:  p.FullName,
		Email:     p.Email,
		AvatarUrl: p.AvatarUrl.String,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func ChatFromRow(c database.Chat) types.Chat {
	chat := types.Chat{
		Id:         c.Id,
		Title:      c.Title,
		ChatType:   c.ChatType,
		IsDemo:     c.IsDemo,
		IsInternal: c.IsInternal,
		IsSignup:   c.IsSignup,
		IsContent:  c.IsContent,
		DontSend:   c.DontSend,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}

	if c.LastMessage.Valid {
		chat.LastMessage = c.LastMessage.String
	}
	if c.LastMessageTime.Valid {
		t := c.LastMessageTime.Time
		chat.LastMessageTime = &t
	}

	return chat
}

func MessageFromRow(m database.Message) types.Message {
	msg := types.Message{
		Id:             m.Id,
		ChatId:         m.ChatId,
		UserId:         m.UserId,
		Content:        m.Content,
		IsRead:         m.IsRead,
		AttachmentUrl:  m.AttachmentUrl.String,
		AttachmentType: m.AttachmentType.String,
		ClientTag:      m.ClientTag.String,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}

	if m.SenderName != "" {
		msg.Sender = &types.Sender{
			FullName:  m.SenderName,
			AvatarUrl: m.SenderAvatar.String,
		}
	}

	return msg
}

func LabelFromRow(l database.Label) types.Label {
	return types.Label{
		Id:        l.Id,
		Name:      l.Name,
		Color:     l.Color,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

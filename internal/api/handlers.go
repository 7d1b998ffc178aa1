package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lib/pq"

	"github.com/periskope/periskope/internal/chat"
	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/server"
	"github.com/periskope/periskope/internal/types"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateChatRequest struct {
	Title    string `json:"title"`
	ChatType string `json:"chat_type"`
}

type SendMessageRequest struct {
	ChatId    string `json:"chat_id"`
	Content   string `json:"content"`
	ClientTag string `json:"client_tag"`
}

const uniqueViolation = "23505"

func (s *PeriskopeApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *PeriskopeApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Println("health check:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Write([]byte("OK"))
}

func (s *PeriskopeApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Email == "" || req.FullName == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	profile, err := s.db.CreateProfile(r.Context(), database.CreateProfileParams{
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		var errResp *ApiError
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, chat.UserFromProfile(profile))
}

func (s *PeriskopeApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	profile, err := s.db.GetProfileByEmail(r.Context(), lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(profile.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := chat.UserFromProfile(profile)

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

// session resolves the authenticated identity into a profile, provisioning
// the profile on the first visit.
func (s *PeriskopeApp) session(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.resolver.Resolve(r.Context(), sess)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, chat.ErrNoSession) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *PeriskopeApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *PeriskopeApp) listChats(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChats, err := s.db.ListChatsForUser(r.Context(), sess.UserId)
	if err != nil {
		s.log.Println("list chats:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chats := make([]types.Chat, 0, len(dbChats))
	for _, c := range dbChats {
		chats = append(chats, chat.ChatFromRow(c))
	}

	s.writeJson(w, http.StatusOK, chats)
}

func (s *PeriskopeApp) createChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// chat creation failures are surfaced inline in the new-chat form, so
	// validation errors carry a reason
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		errResp := NewValidationError("chat title is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.ChatType == "" {
		req.ChatType = types.ChatTypeDirect
	}
	if req.ChatType != types.ChatTypeDirect && req.ChatType != types.ChatTypeGroup {
		errResp := NewValidationError("chat type must be direct or group")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newChat, err := s.db.CreateChat(r.Context(), database.CreateChatParams{
		Title:     req.Title,
		ChatType:  req.ChatType,
		CreatorId: sess.UserId,
	})
	if err != nil {
		s.log.Println("create chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, chat.ChatFromRow(newChat))
}

func (s *PeriskopeApp) getChatLabels(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chatId := r.URL.Query().Get("chat_id")
	if chatId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.requireMembership(w, r, sess.UserId, chatId) {
		return
	}

	dbLabels, err := s.db.ListLabelsForChat(r.Context(), chatId)
	if err != nil {
		s.log.Println("list labels:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	labels := make([]types.Label, 0, len(dbLabels))
	for _, l := range dbLabels {
		labels = append(labels, chat.LabelFromRow(l))
	}

	s.writeJson(w, http.StatusOK, labels)
}

func (s *PeriskopeApp) getMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chatId := r.URL.Query().Get("chat_id")
	if chatId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.requireMembership(w, r, sess.UserId, chatId) {
		return
	}

	dbMsgs, err := s.db.ListMessages(r.Context(), chatId)
	if err != nil {
		s.log.Println("list messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		messages = append(messages, chat.MessageFromRow(m))
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *PeriskopeApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.ChatId == "" || req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.requireMembership(w, r, sess.UserId, req.ChatId) {
		return
	}

	msg, err := s.db.CreateMessage(r.Context(), database.CreateMessageParams{
		ChatId:    req.ChatId,
		UserId:    sess.UserId,
		Content:   req.Content,
		IsRead:    false,
		ClientTag: req.ClientTag,
	})
	if err != nil {
		s.log.Println("send message:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, chat.MessageFromRow(msg))
}

// requireMembership writes a 403 and returns false unless userId belongs to
// the chat.
func (s *PeriskopeApp) requireMembership(w http.ResponseWriter, r *http.Request, userId, chatId string) bool {
	member, err := s.db.IsMember(r.Context(), userId, chatId)
	if err != nil {
		s.log.Println("membership check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	if !member {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}

	return true
}

func (s *PeriskopeApp) serveWs(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.resolver.Resolve(r.Context(), sess)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)
	s.cs.RegisterChan <- client

	go client.Write()

	if err := client.Bootstrap(r.Context()); err != nil {
		s.log.Println("bootstrap:", err)
		client.QueueMessage(server.ErrInternalError(0))
	}

	go client.Read()
}

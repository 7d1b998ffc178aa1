package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/periskope/periskope/internal/chat"
	"github.com/periskope/periskope/internal/config"
	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/server"
	"github.com/periskope/periskope/internal/stats"
)

type PeriskopeApp struct {
	log            *log.Logger
	db             database.PeriskopeRepository
	mux            *http.Server
	cs             *server.ChatServer
	stats          stats.StatsProvider
	resolver       *chat.SessionResolver
	signingKey     []byte
	allowedOrigins []string
}

func NewPeriskopeApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.PeriskopeRepository, sp stats.StatsProvider, cfg *config.Config) *PeriskopeApp {
	s := &PeriskopeApp{
		log:            logger,
		db:             db,
		cs:             cs,
		stats:          sp,
		resolver:       chat.NewSessionResolver(db, logger, sp),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/chats", s.authMiddleware(s.listChats))
	mux.Handle("POST /api/chats", s.authMiddleware(s.createChat))
	mux.Handle("GET /api/chats/labels", s.authMiddleware(s.getChatLabels))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *PeriskopeApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *PeriskopeApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/periskope/periskope/internal/api"
	"github.com/periskope/periskope/internal/config"
	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/feed"
	"github.com/periskope/periskope/internal/server"
	"github.com/periskope/periskope/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional, flags and real env vars win
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("PERISKOPE_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("PERISKOPE_DSN", "host=localhost user=postgres password=postgres dbname=periskope sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("PERISKOPE_SIGNING_KEY"), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("PERISKOPE_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins = strings.Split(v, ",")
		}
	}

	logger := log.New(os.Stderr, "[periskope] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config: ", err)
	}

	dbConn, err := database.NewPgPeriskopeRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("migrate: ", err)
	}

	changeFeed, err := feed.NewPgFeed(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("feed: ", err)
	}
	changeFeed.Run()
	defer changeFeed.Shutdown()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, changeFeed, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server: ", err)
	}

	srv := api.NewPeriskopeApp(mux, logger, chatServer, dbConn, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

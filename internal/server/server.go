package server

import (
	"context"
	"log"
	"sync"

	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/feed"
	"github.com/periskope/periskope/internal/stats"
)

// ChatServer tracks live websocket clients. The per-client loaders do their
// own feed subscriptions, so the server itself only manages connection
// lifecycle.
type ChatServer struct {
	log            *log.Logger
	db             database.PeriskopeRepository
	feed           feed.Feed
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.PeriskopeRepository, fd feed.Feed, sp stats.StatsProvider) (*ChatServer, error) {
	return &ChatServer{
		log:            logger,
		db:             db,
		feed:           fd,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.user.Email)
			cs.addClient(client)
			cs.stats.Incr(stats.MetricActiveClients)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.user.Email)
			cs.removeClient(client)
			cs.stats.Decr(stats.MetricActiveClients)
		case <-cs.stop:
			cs.log.Println("stopping clients")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

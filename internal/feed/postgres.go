package feed

import (
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	notifyChannel = "periskope_changes"

	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second

	subscriptionBuffer = 64
)

// PgFeed receives change events over a Postgres LISTEN connection and fans
// them out to subscribers. The events are published by insert triggers on the
// watched tables.
type PgFeed struct {
	listener *pq.Listener
	log      *log.Logger
	subs     *subscriptions
	stop     chan struct{}
	done     chan struct{}
}

func NewPgFeed(dsn string, logger *log.Logger) (*PgFeed, error) {
	f := &PgFeed{
		log:  logger,
		subs: newSubscriptions(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	f.listener = pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				f.log.Println("feed listener:", err)
			}
		})

	if err := f.listener.Listen(notifyChannel); err != nil {
		f.listener.Close()
		return nil, fmt.Errorf("listen on %q: %w", notifyChannel, err)
	}

	return f, nil
}

func (f *PgFeed) Subscribe(table string, filter *Filter) (*Subscription, error) {
	return f.subs.add(table, filter, subscriptionBuffer), nil
}

func (f *PgFeed) Run() {
	go f.loop()
}

func (f *PgFeed) loop() {
	defer close(f.done)

	for {
		select {
		case n := <-f.listener.Notify:
			if n == nil {
				// the listener reconnected; notifications may have been
				// lost in between, so tell subscribers to refetch
				f.log.Println("feed: connection re-established, resetting subscribers")
				f.subs.reset(f.onDrop)
				continue
			}

			f.handleNotification([]byte(n.Extra))
		case <-time.After(pingInterval):
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.log.Println("feed ping:", err)
				}
			}()
		case <-f.stop:
			if err := f.listener.Close(); err != nil {
				f.log.Println("feed close:", err)
			}
			return
		}
	}
}

func (f *PgFeed) handleNotification(payload []byte) {
	var ev Event
	if err := unmarshalEvent(payload, &ev); err != nil {
		f.log.Println("feed: discarding malformed notification:", err)
		return
	}

	f.subs.dispatch(ev, f.onDrop)
}

func (f *PgFeed) onDrop(sub *Subscription) {
	f.log.Printf("feed: dropping event for slow subscriber on %q", sub.table)
}

func (f *PgFeed) Shutdown() {
	close(f.stop)
	<-f.done
}

package feed

// MemoryFeed is an in-process Feed used by tests. Events are injected with
// Publish and fan out with the same matching rules as the Postgres feed.
type MemoryFeed struct {
	subs    *subscriptions
	Dropped int
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: newSubscriptions()}
}

func (f *MemoryFeed) Subscribe(table string, filter *Filter) (*Subscription, error) {
	return f.subs.add(table, filter, subscriptionBuffer), nil
}

func (f *MemoryFeed) Publish(ev Event) {
	f.subs.dispatch(ev, func(*Subscription) { f.Dropped++ })
}

// Reset simulates a dropped and re-established connection.
func (f *MemoryFeed) Reset() {
	f.subs.reset(nil)
}

package live

import (
	"log/slog"
	"sort"
	"sync"
)

// SubscriptionStatus is a point-in-time view of one subscription.
type SubscriptionStatus struct {
	URL      string `json:"url"`
	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	Events   int64  `json:"events"`
}

// Manager keeps exactly one Subscription per runtime URL it is told about.
type Manager struct {
	newDialer DialerFactory
	sink      Invalidator
	policy    RetryPolicy
	hook      EventHook
	onRemove  func(url string)
	logger    *slog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEventHook registers a hook that observes every event of every stream.
func WithEventHook(hook EventHook) ManagerOption {
	return func(m *Manager) { m.hook = hook }
}

// WithRemoveHook registers a callback run after a URL's subscription is torn down.
func WithRemoveHook(fn func(url string)) ManagerOption {
	return func(m *Manager) { m.onRemove = fn }
}

func NewManager(newDialer DialerFactory, sink Invalidator, policy RetryPolicy, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		newDialer: newDialer,
		sink:      sink,
		policy:    policy,
		logger:    logger.With("component", "live-manager"),
		subs:      make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sync makes the set of subscriptions equal to urls. Subscriptions for URLs
// no longer listed are cancelled before Sync returns.
func (m *Manager) Sync(urls []string) {
	want := make(map[string]bool, len(urls))
	for _, u := range urls {
		if u != "" {
			want[u] = true
		}
	}

	var removed []*Subscription
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	for url, sub := range m.subs {
		if !want[url] {
			removed = append(removed, sub)
			delete(m.subs, url)
		}
	}
	for url := range want {
		if _, ok := m.subs[url]; ok {
			continue
		}
		sub := NewSubscription(url, m.newDialer(url), m.sink, m.policy, m.hook, m.logger)
		m.subs[url] = sub
		sub.Start()
		m.logger.Info("subscribed to sandbox events", "sandbox", url)
	}
	m.mu.Unlock()

	m.teardown(removed)
}

// Count returns the number of managed subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Get returns the subscription for url, if any.
func (m *Manager) Get(url string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[url]
	return sub, ok
}

// Statuses lists every subscription, sorted by URL.
func (m *Manager) Statuses() []SubscriptionStatus {
	m.mu.Lock()
	out := make([]SubscriptionStatus, 0, len(m.subs))
	for url, sub := range m.subs {
		out = append(out, SubscriptionStatus{
			URL:      url,
			State:    sub.State(),
			Attempts: sub.Attempts(),
			Events:   sub.Events(),
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Close cancels every subscription. Later Syncs are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	removed := make([]*Subscription, 0, len(m.subs))
	for url, sub := range m.subs {
		removed = append(removed, sub)
		delete(m.subs, url)
	}
	m.mu.Unlock()

	m.teardown(removed)
}

func (m *Manager) teardown(subs []*Subscription) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			sub.Cancel()
		}(sub)
	}
	wg.Wait()

	for _, sub := range subs {
		m.logger.Info("unsubscribed from sandbox events", "sandbox", sub.URL())
		if m.onRemove != nil {
			m.onRemove(sub.URL())
		}
	}
}

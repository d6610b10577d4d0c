package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type groupState int

const (
	groupCollecting groupState = iota
	groupFlushed
)

// FlushFunc receives the items of a media group once its window closes.
type FlushFunc func(userID int64, items []GroupItem)

type mediaGroup struct {
	userID int64
	items  []GroupItem
	state  groupState
	timer  clockwork.Timer
}

// Aggregator buffers the items of Telegram media groups. Each group collects
// items until its window elapses, then flushes once. Items that arrive after a
// flush open a new group under the same key.
type Aggregator struct {
	clock  clockwork.Clock
	window time.Duration
	flush  FlushFunc

	mu     sync.Mutex
	groups map[string]*mediaGroup
}

// NewAggregator creates an Aggregator that calls flush from a timer goroutine.
func NewAggregator(clock clockwork.Clock, window time.Duration, flush FlushFunc) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{
		clock:  clock,
		window: window,
		flush:  flush,
		groups: make(map[string]*mediaGroup),
	}
}

// GroupKey scopes a media group id to its sender.
func GroupKey(userID int64, mediaGroupID string) string {
	return fmt.Sprintf("%d:%s", userID, mediaGroupID)
}

// Add appends item to the group identified by key. The window starts with
// the first item of a group and is not extended by later ones.
func (a *Aggregator) Add(key string, userID int64, item GroupItem) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if g, ok := a.groups[key]; ok && g.state == groupCollecting {
		g.items = append(g.items, item)
		return
	}

	g := &mediaGroup{userID: userID, items: []GroupItem{item}, state: groupCollecting}
	g.timer = a.clock.AfterFunc(a.window, func() { a.fire(key, g) })
	a.groups[key] = g
}

// Pending returns the number of groups still collecting.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// FlushAll flushes every collecting group immediately.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	pending := make(map[string]*mediaGroup, len(a.groups))
	for key, g := range a.groups {
		pending[key] = g
	}
	a.mu.Unlock()

	for key, g := range pending {
		g.timer.Stop()
		a.fire(key, g)
	}
}

func (a *Aggregator) fire(key string, g *mediaGroup) {
	a.mu.Lock()
	if g.state != groupCollecting {
		a.mu.Unlock()
		return
	}
	g.state = groupFlushed
	if a.groups[key] == g {
		delete(a.groups, key)
	}
	items := g.items
	g.items = nil
	a.mu.Unlock()

	a.flush(g.userID, items)
}

package exchange

import (
	"sort"
	"sync"
)

type bookEntry struct {
	exchangeID string
	clientID   string
}

// book 维护句柄到交易所委托号的映射，仅在交易所确认委托关闭后剔除。
type book struct {
	mu      sync.Mutex
	seq     Handle
	entries map[Handle]bookEntry
}

func newBook() *book {
	return &book{entries: make(map[Handle]bookEntry)}
}

func (b *book) add(exchangeID, clientID string) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.entries[b.seq] = bookEntry{exchangeID: exchangeID, clientID: clientID}
	return b.seq
}

func (b *book) lookup(h Handle) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[h]
	return entry.exchangeID, ok
}

func (b *book) remove(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, h)
}

// reconcile 剔除交易所已不再列出的委托，返回仍然存活的句柄。
func (b *book) reconcile(open []OpenOrder) []Handle {
	live := make(map[string]struct{}, len(open))
	for _, o := range open {
		live[o.ID] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handles := make([]Handle, 0, len(b.entries))
	for h, entry := range b.entries {
		if _, ok := live[entry.exchangeID]; !ok {
			delete(b.entries, h)
			continue
		}
		handles = append(handles, h)
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

func (b *book) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.entries)
}

func containsOrder(open []OpenOrder, exchangeID string) bool {
	for _, o := range open {
		if o.ID == exchangeID {
			return true
		}
	}
	return false
}

func findByClientID(open []OpenOrder, clientID string) (OpenOrder, bool) {
	if clientID == "" {
		return OpenOrder{}, false
	}
	for _, o := range open {
		if o.ClientID == clientID && o.ID != "" {
			return o, true
		}
	}
	return OpenOrder{}, false
}

// Package cache holds in-process state that must survive a transport reconnect.
package cache

import (
	"sort"
	"sync"
)

// SnapshotCache keeps the last encoded message published on each realtime
// channel so a reconnecting publisher can bring the server up to date.
type SnapshotCache struct {
	mu    sync.RWMutex
	byKey map[string][]byte
}

// NewSnapshotCache creates an empty SnapshotCache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		byKey: make(map[string][]byte),
	}
}

// Get returns the last snapshot stored for channel.
func (c *SnapshotCache) Get(channel string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.byKey[channel]
	return data, ok
}

// Set replaces the snapshot for channel.
func (c *SnapshotCache) Set(channel string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[channel] = data
}

// Delete drops the snapshot for channel.
func (c *SnapshotCache) Delete(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, channel)
}

// Len reports how many channels hold a snapshot.
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// All returns every snapshot ordered by channel name.
func (c *SnapshotCache) All() [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.byKey[k])
	}
	return out
}

// Reset clears all snapshots.
func (c *SnapshotCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[string][]byte)
}

package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCache_SetAndGet(t *testing.T) {
	c := NewSnapshotCache()

	c.Set("fight:1", []byte(`{"a":1}`))
	c.Set("fight:1", []byte(`{"a":2}`))

	data, ok := c.Get("fight:1")
	require.True(t, ok)
	assert.Equal(t, `{"a":2}`, string(data), "last write wins")

	_, ok = c.Get("fight:2")
	assert.False(t, ok)
}

func TestSnapshotCache_Delete(t *testing.T) {
	c := NewSnapshotCache()
	c.Set("fight:1", []byte("x"))
	c.Set("fight:2", []byte("y"))

	c.Delete("fight:1")
	c.Delete("fight:9")

	_, ok := c.Get("fight:1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestSnapshotCache_AllOrdered(t *testing.T) {
	c := NewSnapshotCache()
	c.Set("fight:2", []byte("b"))
	c.Set("campaign:1", []byte("c"))
	c.Set("fight:1", []byte("a"))

	var got []string
	for _, d := range c.All() {
		got = append(got, string(d))
	}
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestSnapshotCache_Reset(t *testing.T) {
	c := NewSnapshotCache()
	c.Set("fight:1", []byte("x"))
	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.All())
}

func TestSnapshotCache_Concurrent(t *testing.T) {
	c := NewSnapshotCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("fight:%d", i%5)
			c.Set(key, []byte{byte(i)})
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}

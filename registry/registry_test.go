package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomrelay-server/domain"
)

func TestRegistry_Register(t *testing.T) {
	r := New()

	a := r.Register()
	b := r.Register()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.True(t, r.IsLive(a))
	assert.True(t, r.IsLive(b))
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_RegisterSkipsLiveIDs(t *testing.T) {
	r := New()
	ids := []string{"dup", "dup", "fresh"}
	r.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	assert.Equal(t, domain.ConnectionID("dup"), r.Register())
	assert.Equal(t, domain.ConnectionID("fresh"), r.Register())
}

func TestRegistry_Deregister(t *testing.T) {
	tests := []struct {
		name  string
		times int
	}{
		{name: "once", times: 1},
		{name: "twice is idempotent", times: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			id := r.Register()

			for i := 0; i < tt.times; i++ {
				r.Deregister(id)
			}

			assert.False(t, r.IsLive(id))
			assert.Equal(t, 0, r.Count())
		})
	}
}

func TestRegistry_UnknownID(t *testing.T) {
	r := New()

	assert.False(t, r.IsLive("nobody"))
	assert.NotPanics(t, func() { r.Deregister("nobody") })
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := New()
	const n = 100

	var wg sync.WaitGroup
	ids := make(chan domain.ConnectionID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Register()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[domain.ConnectionID]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, r.Count())
}

package form

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/tests/mocks"
)

const (
	owner = "user-1"
	other = "user-2"
)

func TestManager(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, newValidator(t), schema.Builtin(), new(mocks.Logger))

	_, _, err := m.Open(owner, "lol", nil)
	assert.Equal(t, ErrUnknownSchema, errors.Cause(err))

	var submitted []schema.Values
	m.Handle("course", func(_ context.Context, values schema.Values) error {
		submitted = append(submitted, values)
		return nil
	})

	id, f, err := m.Open(owner, "course", validCourse())
	require.NoError(t, err)
	assert.Contains(t, m.IDs(), id)

	got, err := m.Get(owner, id)
	require.NoError(t, err)
	assert.Same(t, f, got)

	ok, err := m.Submit(context.Background(), owner, id)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, submitted, 1)
	assert.Equal(t, "CS101", submitted[0]["code"])

	t.Run("schema without handler", func(t *testing.T) {
		id, _, err := m.Open(owner, "scholarship", schema.Values{"scholarshipType": "bogus"})
		require.NoError(t, err)
		ok, err := m.Submit(context.Background(), owner, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown form", func(t *testing.T) {
		_, err := m.Submit(context.Background(), owner, "nope")
		assert.Equal(t, ErrNotFound, err)
		assert.Equal(t, ErrNotFound, m.Close(owner, "nope"))
	})

	t.Run("forms of other owners", func(t *testing.T) {
		_, err := m.Get(other, id)
		assert.Equal(t, ErrNotFound, err)
		_, err = m.Submit(context.Background(), other, id)
		assert.Equal(t, ErrNotFound, err)
		assert.Equal(t, ErrNotFound, m.Close(other, id))
		assert.Contains(t, m.IDs(), id, "still open")
	})

	require.NoError(t, m.Close(owner, id))
	_, err = m.Get(owner, id)
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrClosed, f.Change("code", "CS102"))

	m.CloseAll()
	assert.Empty(t, m.IDs())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestManager_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	m := NewManager(context.Background(), newValidator(t), schema.Builtin(), new(mocks.Logger),
		WithIdleTimeout(30*time.Minute), WithManagerClock(clock.Now))
	defer m.CloseAll()

	idleID, idle, err := m.Open(owner, "course", nil)
	require.NoError(t, err)
	usedID, _, err := m.Open(owner, "course", nil)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, err = m.Get(owner, usedID)
	require.NoError(t, err)
	assert.Zero(t, m.Sweep())

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, []string{usedID}, m.IDs())
	_, err = m.Get(owner, idleID)
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrClosed, idle.Change("code", "CS101"))

	t.Run("no idle timeout", func(t *testing.T) {
		m := NewManager(context.Background(), newValidator(t), schema.Builtin(), new(mocks.Logger), WithManagerClock(clock.Now))
		defer m.CloseAll()
		_, _, err := m.Open(owner, "course", nil)
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)
		assert.Zero(t, m.Sweep())
	})
}

func TestManager_maxPerOwner(t *testing.T) {
	m := NewManager(context.Background(), newValidator(t), schema.Builtin(), new(mocks.Logger), WithMaxPerOwner(2))
	defer m.CloseAll()

	first, firstForm, err := m.Open(owner, "course", nil)
	require.NoError(t, err)
	second, _, err := m.Open(owner, "course", nil)
	require.NoError(t, err)
	othersForm, _, err := m.Open(other, "course", nil)
	require.NoError(t, err)

	_, err = m.Get(owner, first)
	require.NoError(t, err)
	third, _, err := m.Open(owner, "course", nil)
	require.NoError(t, err)

	_, err = m.Get(owner, second)
	assert.Equal(t, ErrNotFound, err, "least recently used form is closed")
	for _, id := range []string{first, third} {
		_, err = m.Get(owner, id)
		assert.NoError(t, err)
	}
	_, err = m.Get(other, othersForm)
	assert.NoError(t, err)
	assert.Len(t, m.IDs(), 3)
	assert.NoError(t, firstForm.Change("code", "CS101"))
}

func TestManager_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(ctx, newValidator(t), schema.Builtin(), new(mocks.Logger), WithIdleTimeout(time.Hour))
	_, f, err := m.Open(owner, "course", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		m.Run(time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return once the context was done")
	}
	assert.Empty(t, m.IDs())
	assert.Equal(t, ErrClosed, f.Change("code", "CS101"))
}

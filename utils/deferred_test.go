package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferred_Resolve(t *testing.T) {
	d := NewDeferred[string]()

	_, ok := d.Value()
	assert.False(t, ok)
	select {
	case <-d.Done():
		t.Fatal("pending deferred reported done")
	default:
	}

	assert.True(t, d.Resolve("abc"))
	assert.False(t, d.Resolve("other"), "only the first settle wins")
	assert.False(t, d.Reject(errors.New("late")))

	v, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	assert.Equal(t, "abc", d.MustValue())
}

func TestDeferred_ResolveEmptyValue(t *testing.T) {
	d := NewDeferred[string]()
	d.Resolve("")

	v, ok := d.Value()
	assert.True(t, ok, "an empty value is still resolved")
	assert.Equal(t, "", v)
	assert.NotPanics(t, func() { d.MustValue() })
}

func TestDeferred_Reject(t *testing.T) {
	boom := errors.New("boom")
	d := NewDeferred[int]()
	d.Reject(boom)

	_, err := d.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	_, ok := d.Value()
	assert.False(t, ok)
	assert.PanicsWithValue(t, ErrNotResolved, func() { d.MustValue() })
}

func TestDeferred_MustValuePanicsWhilePending(t *testing.T) {
	d := NewDeferred[int]()
	assert.PanicsWithValue(t, ErrNotResolved, func() { d.MustValue() })
}

func TestDeferred_WaitHonoursContext(t *testing.T) {
	d := NewDeferred[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeferred_WaitFromOtherGoroutine(t *testing.T) {
	d := NewDeferred[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Resolve(42)
	}()

	v, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoffWith(100*time.Millisecond, 350*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, b.NextDelay())
	assert.Equal(t, 200*time.Millisecond, b.NextDelay())
	assert.Equal(t, 350*time.Millisecond, b.NextDelay())
	assert.Equal(t, 350*time.Millisecond, b.NextDelay())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextDelay())
}

func TestExponentialBackoff_Defaults(t *testing.T) {
	var _ ReconnectStrategy = NewExponentialBackoff()

	b := NewExponentialBackoffWith(0, 0)
	assert.Equal(t, time.Second, b.NextDelay())
	assert.Equal(t, time.Second, b.NextDelay())

	d := NewExponentialBackoff()
	assert.Equal(t, time.Second, d.NextDelay())
	assert.Equal(t, 2*time.Second, d.NextDelay())
}

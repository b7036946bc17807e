package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestSubscribeGetsCurrentValue(t *testing.T) {
	t.Parallel()
	l := NewLatest(1)
	ch, cancel := l.Subscribe()
	defer cancel()
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 1, l.Load())
}

func TestLatestOverwritesUnreadValue(t *testing.T) {
	t.Parallel()
	l := NewLatest(0)
	ch, cancel := l.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		l.Store(i) // never blocks on a slow subscriber
	}
	assert.Equal(t, 5, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestLatestCancelClosesChannel(t *testing.T) {
	t.Parallel()
	l := NewLatest("a")
	ch, cancel := l.Subscribe()
	<-ch
	cancel()
	cancel()

	l.Store("b")
	_, ok := <-ch
	require.False(t, ok)
	assert.Equal(t, "b", l.Load())
}

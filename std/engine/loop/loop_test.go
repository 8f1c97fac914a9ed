package loop_test

import (
	"testing"
	"time"

	"github.com/named-data/ndnnet/std/engine/loop"
	"github.com/stretchr/testify/require"
)

func TestPostOrder(t *testing.T) {
	l := loop.New(4)
	require.NoError(t, l.Start())
	require.ErrorIs(t, l.Start(), loop.ErrAlreadyRunning)

	got := []int{}
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Call(func() { got = append(got, i) }))
	}
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}

	require.NoError(t, l.Stop())
	<-l.Done()
	require.False(t, l.IsRunning())
	require.ErrorIs(t, l.Call(func() {}), loop.ErrNotRunning)
}

func TestStopFromTask(t *testing.T) {
	l := loop.New(1)
	require.NoError(t, l.Start())

	l.Post(func() { l.Stop() })

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "loop did not stop")
	}

	// dropped, must not block
	l.Post(func() { panic("ran after stop") })
}

func TestPostFromTask(t *testing.T) {
	l := loop.New(1)
	require.NoError(t, l.Start())
	defer l.Stop()

	ran := make(chan int, 8)
	l.Post(func() {
		// the queue holds one task, the rest spill over
		for i := 0; i < 8; i++ {
			i := i
			l.Post(func() { ran <- i })
		}
	})

	for i := 0; i < 8; i++ {
		select {
		case v := <-ran:
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			require.FailNow(t, "task not run")
		}
	}
}

func TestPostOrderWhenFull(t *testing.T) {
	l := loop.New(2)
	require.NoError(t, l.Start())
	defer l.Stop()

	release := make(chan struct{})
	l.Post(func() { <-release })

	// posted from outside while the loop is busy and the queue overflows
	ran := make(chan int, 64)
	for i := 0; i < 32; i++ {
		i := i
		l.Post(func() { ran <- i })
	}
	close(release)

	for i := 0; i < 32; i++ {
		select {
		case v := <-ran:
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			require.FailNow(t, "task not run")
		}
	}
}

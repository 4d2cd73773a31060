//go:build linux

package reactor

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/reactor/poller"
)

func newNativeReactor(t *testing.T) *Reactor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EventBatch = 16
	r, err := NewFromConfig(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func pipe(t *testing.T) (rd, wr int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestNativeTimeoutAndInterval(t *testing.T) {
	r := newNativeReactor(t)

	var order []string
	ticks := 0
	require.NoError(t, r.AddInterval(1, 5*time.Millisecond, func(id int) {
		ticks++
		order = append(order, "tick")
		if ticks == 3 {
			assert.True(t, r.DelInterval(id))
		}
	}))
	require.NoError(t, r.AddTimeout(2, 0, func(int) { order = append(order, "zero") }))

	start := time.Now()
	require.NoError(t, r.Run())
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, []string{"zero", "tick", "tick", "tick"}, order)
	assert.Equal(t, 0, r.Len(Interval))
	assert.Equal(t, 0, r.Len(Timeout))
}

func TestNativePipeEcho(t *testing.T) {
	r := newNativeReactor(t)
	rd, wr := pipe(t)

	var got []byte
	require.NoError(t, r.AddRead(rd, func(fd int) {
		var buf [64]byte
		n, err := unix.Read(fd, buf[:])
		if n > 0 {
			got = append(got, buf[:n]...)
		}
		if err == nil && n == 0 {
			// 写端关闭
			r.DelRead(fd)
		}
	}))
	require.NoError(t, r.AddWrite(wr, func(fd int) {
		_, err := unix.Write(fd, []byte("hello"))
		require.NoError(t, err)
		assert.True(t, r.DelWrite(fd))
	}))
	require.NoError(t, r.AddTimeout(1, 20*time.Millisecond, func(int) {
		assert.Equal(t, "hello", string(got))
		r.Stop()
	}))

	require.NoError(t, r.Run())
	assert.Equal(t, "hello", string(got))
	assert.True(t, r.Has(Read, rd), "read stays registered until removed")
	assert.False(t, r.Has(Write, wr))
}

func TestNativeSignal(t *testing.T) {
	r := newNativeReactor(t)
	var got []syscall.Signal
	require.NoError(t, r.AddSignal(syscall.SIGUSR2, func(sig syscall.Signal) {
		got = append(got, sig)
		r.DelSignal(sig)
	}))
	require.NoError(t, r.AddTimeout(1, 0, func(int) {
		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))
	}))
	require.NoError(t, r.AddTimeout(2, 5*time.Second, func(int) {
		t.Error("signal was not delivered")
		r.Stop()
	}))
	// 收到信号后撤掉兜底超时，循环随即因无事件而返回
	require.NoError(t, r.AddInterval(3, time.Millisecond, func(int) {
		if len(got) > 0 {
			r.DelTimeout(2)
			r.DelInterval(3)
		}
	}))

	require.NoError(t, r.Run())
	assert.Equal(t, []syscall.Signal{syscall.SIGUSR2}, got)
}

func TestNativeStopFromAnotherGoroutine(t *testing.T) {
	r := newNativeReactor(t)
	require.NoError(t, r.AddInterval(1, time.Hour, func(int) {}))

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	require.Eventually(t, func() bool { return r.State() == Running }, time.Second, time.Millisecond)
	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the loop")
	}
	assert.Equal(t, Idle, r.State())
	assert.True(t, r.Has(Interval, 1))

	// 上一轮的停止请求不会带到下一次 Run
	require.True(t, r.DelInterval(1))
	fired := 0
	require.NoError(t, r.AddTimeout(2, 10*time.Millisecond, func(int) { fired++ }))
	require.NoError(t, r.Run())
	assert.Equal(t, 1, fired)
}

func TestNativeStopAfterLoopExit(t *testing.T) {
	b, err := poller.New(poller.DefaultOptions())
	require.NoError(t, err)
	rb := &racingBackend{Backend: b}
	r := New(rb, WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = r.Close() })
	rb.after = r.Stop

	require.NoError(t, r.AddTimeout(1, 0, func(int) {}))
	require.NoError(t, r.Run())

	fired := 0
	begin := time.Now()
	require.NoError(t, r.AddTimeout(2, 10*time.Millisecond, func(int) { fired++ }))
	require.NoError(t, r.Run())
	assert.Equal(t, 1, fired)
	assert.GreaterOrEqual(t, time.Since(begin), 10*time.Millisecond)
	assert.False(t, r.Has(Timeout, 2))
}

func TestNativeRegistrationErrors(t *testing.T) {
	r := newNativeReactor(t)
	err := r.AddRead(-1, func(int) {})
	assert.ErrorIs(t, err, ErrRegistration)
	assert.False(t, r.Has(Read, -1))

	rd, _ := pipe(t)
	require.NoError(t, r.AddRead(rd, func(int) {}))
	assert.ErrorIs(t, r.AddRead(rd, func(int) {}), ErrEventExists)
	assert.True(t, r.DelRead(rd))
	assert.False(t, r.DelRead(rd))
}

package reactor

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/reactor/poller"
)

func newFakeReactor(t *testing.T, opts ...Option) (*Reactor, *poller.Fake) {
	t.Helper()
	f := poller.NewFake()
	r := New(f, opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r, f
}

func TestRemoveTwice(t *testing.T) {
	noopFD := func(int) {}
	noopID := func(int) {}

	cases := []struct {
		kind Kind
		key  int
		add  func(r *Reactor) error
	}{
		{Read, 5, func(r *Reactor) error { return r.AddRead(5, noopFD) }},
		{Write, 5, func(r *Reactor) error { return r.AddWrite(5, noopFD) }},
		{Signal, int(syscall.SIGUSR1), func(r *Reactor) error {
			return r.AddSignal(syscall.SIGUSR1, func(syscall.Signal) {})
		}},
		{Interval, 1, func(r *Reactor) error { return r.AddInterval(1, time.Second, noopID) }},
		{Timeout, 1, func(r *Reactor) error { return r.AddTimeout(1, time.Second, noopID) }},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			r, f := newFakeReactor(t)
			require.NoError(t, tc.add(r))
			assert.True(t, r.Has(tc.kind, tc.key))
			assert.Equal(t, 1, f.Live())

			assert.True(t, r.Remove(tc.kind, tc.key))
			assert.False(t, r.Remove(tc.kind, tc.key))
			assert.False(t, r.Has(tc.kind, tc.key))
			assert.Equal(t, 0, f.Live())
			assert.Equal(t, 1, f.Cancels)
		})
	}
}

func TestRemoveUnknown(t *testing.T) {
	r, _ := newFakeReactor(t)
	assert.False(t, r.Remove(Read, 42))
	assert.False(t, r.Remove(Kind(99), 1))
	assert.False(t, r.DelTimeout(3))
}

func TestTimeoutFiresOnce(t *testing.T) {
	r, f := newFakeReactor(t)
	var calls []int
	require.NoError(t, r.AddTimeout(7, 2*time.Second, func(id int) {
		// 回调执行时表项已经移除
		assert.False(t, r.Has(Timeout, 7))
		calls = append(calls, id)
	}))

	f.Advance(time.Second)
	assert.Empty(t, calls)
	f.Advance(time.Second)
	assert.Equal(t, []int{7}, calls)
	f.Advance(time.Minute)
	assert.Equal(t, []int{7}, calls)

	assert.False(t, r.Has(Timeout, 7))
	assert.False(t, r.DelTimeout(7))
	assert.Equal(t, 0, f.Live())
}

func TestZeroTimeout(t *testing.T) {
	r, f := newFakeReactor(t)
	fired := 0
	require.NoError(t, r.AddTimeout(1, 0, func(int) { fired++ }))
	f.Advance(0)
	assert.Equal(t, 1, fired)
	f.Advance(time.Hour)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, r.Len(Timeout))
}

func TestIntervalTicks(t *testing.T) {
	r, f := newFakeReactor(t)
	ticks := 0
	require.NoError(t, r.AddInterval(3, time.Second, func(id int) {
		assert.Equal(t, 3, id)
		ticks++
		assert.True(t, r.Has(Interval, 3))
	}))

	f.Advance(5*time.Second + 500*time.Millisecond)
	assert.Equal(t, 5, ticks)
	assert.Equal(t, 5, f.Rearms)
	assert.True(t, r.Has(Interval, 3))

	assert.True(t, r.DelInterval(3))
	f.Advance(10 * time.Second)
	assert.Equal(t, 5, ticks)
	assert.Equal(t, 0, f.Live())
}

func TestIntervalRemoveFromOwnCallback(t *testing.T) {
	r, f := newFakeReactor(t)
	ticks := 0
	require.NoError(t, r.AddInterval(1, time.Second, func(id int) {
		ticks++
		if ticks == 2 {
			assert.True(t, r.Remove(Interval, id))
		}
	}))
	f.Advance(10 * time.Second)
	assert.Equal(t, 2, ticks)
	assert.False(t, r.Has(Interval, 1))
	assert.Equal(t, 0, f.Live())
}

func TestIntervalRejectsNonPositive(t *testing.T) {
	r, f := newFakeReactor(t)
	assert.ErrorIs(t, r.AddInterval(1, 0, func(int) {}), ErrInvalidDuration)
	assert.ErrorIs(t, r.AddInterval(1, time.Nanosecond, func(int) {}), ErrInvalidDuration)
	assert.ErrorIs(t, r.AddTimeout(1, -time.Second, func(int) {}), ErrInvalidDuration)
	assert.Equal(t, 0, f.Live())
}

func TestIntervalRearmFailureDropsEntry(t *testing.T) {
	r, f := newFakeReactor(t)
	ticks := 0
	require.NoError(t, r.AddInterval(1, time.Second, func(int) { ticks++ }))
	f.FailNext = errors.New("no timers left")
	f.Advance(time.Second)
	assert.Equal(t, 1, ticks)
	assert.False(t, r.Has(Interval, 1))
	f.Advance(time.Minute)
	assert.Equal(t, 1, ticks)
}

func TestTimerRemovedBeforeTrampoline(t *testing.T) {
	r, f := newFakeReactor(t)
	var order []int
	require.NoError(t, r.AddTimeout(1, time.Second, func(int) {
		order = append(order, 1)
		assert.True(t, r.DelTimeout(2))
	}))
	require.NoError(t, r.AddTimeout(2, 2*time.Second, func(int) { order = append(order, 2) }))
	f.Advance(5 * time.Second)
	assert.Equal(t, []int{1}, order)
}

func TestReadWritePersistent(t *testing.T) {
	r, f := newFakeReactor(t)
	var reads, writes []int
	require.NoError(t, r.AddRead(9, func(fd int) { reads = append(reads, fd) }))
	require.NoError(t, r.AddWrite(9, func(fd int) { writes = append(writes, fd) }))

	for i := 0; i < 3; i++ {
		assert.True(t, f.Readable(9))
		assert.True(t, f.Writable(9))
	}
	assert.Equal(t, []int{9, 9, 9}, reads)
	assert.Equal(t, []int{9, 9, 9}, writes)

	assert.True(t, r.DelWrite(9))
	assert.False(t, f.Writable(9))
	assert.True(t, f.Readable(9))
	assert.Len(t, reads, 4)
}

func TestReadSelfRemove(t *testing.T) {
	r, f := newFakeReactor(t)
	calls := 0
	require.NoError(t, r.AddRead(4, func(fd int) {
		calls++
		assert.True(t, r.DelRead(fd))
	}))
	assert.True(t, f.Readable(4))
	assert.False(t, f.Readable(4))
	assert.Equal(t, 1, calls)
}

func TestSignal(t *testing.T) {
	r, f := newFakeReactor(t)
	var got []syscall.Signal
	require.NoError(t, r.AddSignal(syscall.SIGHUP, func(sig syscall.Signal) { got = append(got, sig) }))
	f.Deliver(syscall.SIGHUP)
	f.Deliver(syscall.SIGHUP)
	assert.Equal(t, []syscall.Signal{syscall.SIGHUP, syscall.SIGHUP}, got)
	assert.True(t, r.DelSignal(syscall.SIGHUP))
	assert.False(t, f.Deliver(syscall.SIGHUP))
}

func TestDuplicateRegistration(t *testing.T) {
	r, f := newFakeReactor(t)
	require.NoError(t, r.AddTimeout(1, time.Second, func(int) {}))
	assert.ErrorIs(t, r.AddTimeout(1, time.Second, func(int) {}), ErrEventExists)
	// 同一 id 在不同种类下互不冲突
	require.NoError(t, r.AddInterval(1, time.Second, func(int) {}))
	assert.Equal(t, 2, f.Live())
}

func TestRegistrationFailureLeavesTableUntouched(t *testing.T) {
	r, f := newFakeReactor(t)
	f.FailNext = syscall.EMFILE
	err := r.AddRead(3, func(int) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistration)
	assert.ErrorIs(t, err, syscall.EMFILE)

	var re *RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, Read, re.Kind)
	assert.Equal(t, 3, re.Key)
	assert.False(t, r.Has(Read, 3))

	err = r.AddRead(-1, func(int) {})
	assert.ErrorIs(t, err, syscall.EBADF)
	assert.Equal(t, 0, r.Len(Read))
}

func TestNilCallback(t *testing.T) {
	r, _ := newFakeReactor(t)
	assert.ErrorIs(t, r.AddRead(1, nil), ErrNilCallback)
	assert.ErrorIs(t, r.AddWrite(1, nil), ErrNilCallback)
	assert.ErrorIs(t, r.AddSignal(syscall.SIGINT, nil), ErrNilCallback)
	assert.ErrorIs(t, r.AddInterval(1, time.Second, nil), ErrNilCallback)
	assert.ErrorIs(t, r.AddTimeout(1, time.Second, nil), ErrNilCallback)
}

func TestRunStop(t *testing.T) {
	r, f := newFakeReactor(t)
	var states []State
	ticks := 0
	require.NoError(t, r.AddInterval(1, time.Second, func(int) {
		ticks++
		if ticks == 3 {
			r.Stop()
			r.Stop()
			states = append(states, r.State())
		}
	}))
	for i := 0; i < 10; i++ {
		f.Then(func() {
			states = append(states, r.State())
			f.Advance(time.Second)
		})
	}

	require.NoError(t, r.Run())
	assert.Equal(t, 3, ticks)
	assert.Equal(t, []State{Running, Running, Running, Stopping}, states)
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, 7, f.Pending())

	// 可以再次运行
	require.NoError(t, r.Run())
	assert.Equal(t, 10, ticks)
}

func TestRunReentrant(t *testing.T) {
	r, f := newFakeReactor(t)
	var inner error
	f.Then(func() { inner = r.Run() })
	require.NoError(t, r.Run())
	assert.ErrorIs(t, inner, ErrAlreadyRunning)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	r, f := newFakeReactor(t)
	r.Stop()
	ran := false
	f.Then(func() { ran = true })
	require.NoError(t, r.Run())
	assert.True(t, ran)
}

// racingBackend 在后端循环前后插入钩子，模拟其它 goroutine 的 Stop
// 恰好落在 Reactor 状态为 Running 而后端循环尚未开始或已经结束的窗口里。
type racingBackend struct {
	poller.Backend
	before func()
	after  func()
}

func (b *racingBackend) Run(done func() bool) error {
	if b.before != nil {
		b.before()
		b.before = nil
	}
	err := b.Backend.Run(done)
	if b.after != nil {
		b.after()
		b.after = nil
	}
	return err
}

func TestStopAfterLoopExitDoesNotLeak(t *testing.T) {
	f := poller.NewFake()
	rb := &racingBackend{Backend: f}
	r := New(rb)
	t.Cleanup(func() { _ = r.Close() })
	rb.after = r.Stop

	require.NoError(t, r.Run())
	assert.Equal(t, Idle, r.State())

	fired := 0
	require.NoError(t, r.AddTimeout(1, 10*time.Millisecond, func(int) { fired++ }))
	f.Then(func() { f.Advance(10 * time.Millisecond) })
	require.NoError(t, r.Run())
	assert.Equal(t, 1, fired)
	assert.False(t, r.Has(Timeout, 1))
}

func TestStopBeforeLoopStartIsHonoured(t *testing.T) {
	f := poller.NewFake()
	rb := &racingBackend{Backend: f}
	r := New(rb)
	t.Cleanup(func() { _ = r.Close() })
	rb.before = r.Stop

	ran := false
	f.Then(func() { ran = true })
	require.NoError(t, r.Run())
	assert.False(t, ran)
	assert.Equal(t, 1, f.Pending())
	assert.Equal(t, Idle, r.State())

	require.NoError(t, r.Run())
	assert.True(t, ran)
}

func TestCloseCancelsEverything(t *testing.T) {
	f := poller.NewFake()
	r := New(f)
	require.NoError(t, r.AddRead(1, func(int) {}))
	require.NoError(t, r.AddWrite(1, func(int) {}))
	require.NoError(t, r.AddSignal(syscall.SIGTERM, func(syscall.Signal) {}))
	require.NoError(t, r.AddInterval(1, time.Second, func(int) {}))
	require.NoError(t, r.AddTimeout(2, time.Second, func(int) {}))
	require.NoError(t, r.AddTimeout(3, 0, func(int) {}))
	f.Advance(0) // timeout 3 被消费

	require.NoError(t, r.Close())
	assert.Equal(t, 5, f.Cancels)
	assert.Equal(t, 0, f.Live())
	for k := 0; k < numKinds; k++ {
		assert.Equal(t, 0, r.Len(Kind(k)))
	}

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.AddTimeout(1, 0, func(int) {}), ErrClosed)
	assert.ErrorIs(t, r.Run(), ErrClosed)
}

func TestCloseWhileRunning(t *testing.T) {
	r, f := newFakeReactor(t)
	var err error
	f.Then(func() { err = r.Close() })
	require.NoError(t, r.Run())
	assert.ErrorIs(t, err, ErrRunning)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "read", Read.String())
	assert.Equal(t, "write", Write.String())
	assert.Equal(t, "signal", Signal.String())
	assert.Equal(t, "interval", Interval.String())
	assert.Equal(t, "timeout", Timeout.String())
	assert.Equal(t, "unknown", Kind(42).String())
	assert.Equal(t, "stopping", Stopping.String())
}

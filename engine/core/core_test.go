package core

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIDPoolRecyclesLowestFreeSlot(t *testing.T) {
	p := NewIDPool(4)

	a := p.Acquire("a")
	b := p.Acquire("b")
	c := p.Acquire("c")
	require.Equal(t, []uint32{0, 1, 2}, []uint32{a, b, c})

	require.NoError(t, p.Release(b))
	require.Nil(t, p.Owner(b))
	require.Equal(t, uint32(1), p.Acquire("d"))
	require.Equal(t, "d", p.Owner(1))
	require.Equal(t, uint32(3), p.Acquire("e"))
}

func TestIDPoolReleaseErrors(t *testing.T) {
	p := NewIDPool(0)
	require.ErrorIs(t, p.Release(0), ErrOutOfRange)

	id := p.Acquire(struct{}{})
	require.NoError(t, p.Release(id))
	require.ErrorIs(t, p.Release(id), ErrOutOfRange)
}

func TestEventSystem(t *testing.T) {
	es := NewEventSystem()
	listener := &struct{ name string }{"first"}

	var got []uint32
	onEvent := func(code SystemEventCode, sender interface{}, l interface{}, data EventContext) bool {
		got = append(got, data.Data.U32[0])
		return false
	}

	require.True(t, es.Register(EVENT_CODE_ANIMATION_COMPLETED, listener, onEvent))
	require.False(t, es.Register(EVENT_CODE_ANIMATION_COMPLETED, listener, onEvent), "duplicate listener")

	var ctx EventContext
	ctx.Data.U32[0] = 7
	require.False(t, es.Fire(EVENT_CODE_ANIMATION_COMPLETED, nil, ctx))
	require.Equal(t, []uint32{7}, got)

	require.True(t, es.Unregister(EVENT_CODE_ANIMATION_COMPLETED, listener))
	require.False(t, es.Unregister(EVENT_CODE_ANIMATION_COMPLETED, listener))
	es.Fire(EVENT_CODE_ANIMATION_COMPLETED, nil, ctx)
	require.Len(t, got, 1)
}

func TestEventSystemHandledStopsPropagation(t *testing.T) {
	es := NewEventSystem()
	calls := 0
	handled := func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls++
		return true
	}
	require.True(t, es.Register(EVENT_CODE_APPLICATION_QUIT, "a", handled))
	require.True(t, es.Register(EVENT_CODE_APPLICATION_QUIT, "b", handled))

	require.True(t, es.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
	require.Equal(t, 1, calls)
}

func TestClockElapsedSeconds(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	c := &Clock{now: func() time.Time { return now }}

	c.Update()
	require.Zero(t, c.Elapsed(), "not started")

	c.Start()
	now = base.Add(1500 * time.Millisecond)
	c.Update()
	require.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = base.Add(10 * time.Second)
	c.Update()
	require.InDelta(t, 1.5, c.Elapsed(), 1e-9)
}

func TestMetricsAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.002)
	}
	require.InDelta(t, 2.0, m.FrameTime(), 1e-9)
}

func TestLogLevelParsing(t *testing.T) {
	lvl, err := ParseLogLevel("warn")
	require.NoError(t, err)
	require.Equal(t, WarnLevel, lvl)

	_, err = ParseLogLevel("chatty")
	require.Error(t, err)

	var buf bytes.Buffer
	SetLogOutput(&buf)
	SetLogLevel(WarnLevel)
	LogInfo("hidden")
	LogWarn("visible %d", 1)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "visible 1")
}

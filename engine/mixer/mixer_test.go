package mixer

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/skeleton"
	"github.com/stretchr/testify/require"
)

const (
	boneR = 0
	boneC = 1
	boneU = 2
)

func testSkeleton(t *testing.T) *skeleton.CoreSkeleton {
	t.Helper()
	s, err := skeleton.NewBuilder("rcu").
		Bone("R", "", math.NewQuatIdentity(), math.NewVec3Zero()).
		Bone("C", "R", math.NewQuatIdentity(), math.NewVec3(1, 0, 0)).
		Bone("U", "R", math.NewQuatIdentity(), math.NewVec3(0, 1, 0)).
		Build()
	require.NoError(t, err)
	return s
}

// constant returns a clip holding one bone at a fixed translation.
func constant(t *testing.T, name string, boneID int, x float32) *animation.CoreAnimation {
	t.Helper()
	anim, err := animation.NewCoreAnimation(name, 1)
	require.NoError(t, err)
	track := animation.NewCoreTrack(boneID)
	require.NoError(t, track.AddKeyframe(animation.NewKeyframe(0, math.NewQuatIdentity(), math.NewVec3(x, 0, 0))))
	require.NoError(t, anim.AddTrack(track))
	return anim
}

// ramp returns a clip moving boneID from x=0 to x=duration over duration seconds.
func ramp(t *testing.T, boneID int, duration float32) *animation.CoreAnimation {
	t.Helper()
	anim, err := animation.NewCoreAnimation("ramp", duration)
	require.NoError(t, err)
	track := animation.NewCoreTrack(boneID)
	require.NoError(t, track.AddKeyframe(animation.NewKeyframe(0, math.NewQuatIdentity(), math.NewVec3Zero())))
	require.NoError(t, track.AddKeyframe(animation.NewKeyframe(duration, math.NewQuatIdentity(), math.NewVec3(duration, 0, 0))))
	require.NoError(t, anim.AddTrack(track))
	require.NoError(t, anim.Validate(animation.DurationPolicyReject))
	return anim
}

func newMixer(t *testing.T, opts ...Option) *Mixer {
	t.Helper()
	m, err := New(testSkeleton(t), opts...)
	require.NoError(t, err)
	return m
}

func TestNewRequiresFrozenSkeleton(t *testing.T) {
	s, _ := skeleton.NewCoreSkeleton("loose")
	_, err := New(s)
	require.ErrorIs(t, err, core.ErrSkeletonNotFrozen)

	m := newMixer(t)
	pose := m.Pose()
	require.NotNil(t, pose)
	require.Equal(t, math.NewVec3(1, 0, 0), pose.Absolute[boneC].Translation)
}

func TestBlendWeightsAreNormalized(t *testing.T) {
	a := constant(t, "a", boneC, 2)
	b := constant(t, "b", boneC, 4)

	for _, weights := range [][2]float32{{0.3, 0.7}, {3, 7}} {
		m := newMixer(t)
		_, err := m.Activate(a, InstanceConfig{Weight: weights[0], Rate: 1, Loop: true})
		require.NoError(t, err)
		_, err = m.Activate(b, InstanceConfig{Weight: weights[1], Rate: 1, Loop: true})
		require.NoError(t, err)
		require.NoError(t, m.Resolve())

		got := m.Pose().Local[boneC].Translation.X
		require.InDelta(t, 0.3*2+0.7*4, got, 1e-5, "weights %v", weights)
	}
}

func TestEqualWeightsAverageTranslations(t *testing.T) {
	m := newMixer(t)
	for i, x := range []float32{3, 6, 9} {
		_, err := m.Activate(constant(t, string(rune('a'+i)), boneC, x), DefaultInstanceConfig())
		require.NoError(t, err)
	}
	require.NoError(t, m.Resolve())
	require.InDelta(t, 6, m.Pose().Local[boneC].Translation.X, 1e-5)
}

func TestZeroWeightDoesNotContribute(t *testing.T) {
	m := newMixer(t)
	id, err := m.Activate(constant(t, "a", boneC, 8), InstanceConfig{Weight: 0, Rate: 1})
	require.NoError(t, err)
	require.NoError(t, m.Resolve())
	require.Equal(t, float32(1), m.Pose().Local[boneC].Translation.X)

	require.NoError(t, m.SetWeight(id, 2))
	require.NoError(t, m.Resolve())
	require.Equal(t, float32(8), m.Pose().Local[boneC].Translation.X)

	require.ErrorIs(t, m.SetWeight(id, -1), core.ErrOutOfRange)
	_, err = m.Activate(constant(t, "b", boneC, 1), InstanceConfig{Weight: -1})
	require.ErrorIs(t, err, core.ErrOutOfRange)
}

func TestResolveComposesHierarchy(t *testing.T) {
	m := newMixer(t)
	_, err := m.Activate(constant(t, "shift", boneR, 5), DefaultInstanceConfig())
	require.NoError(t, err)
	require.NoError(t, m.Resolve())

	pose := m.Pose()
	require.True(t, pose.Absolute[boneC].Translation.Compare(math.NewVec3(6, 0, 0), 1e-5))
	require.True(t, pose.Absolute[boneU].Translation.Compare(math.NewVec3(5, 1, 0), 1e-5))
}

func TestPauseFreezesTime(t *testing.T) {
	m := newMixer(t)
	id, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: 1, Loop: true})
	require.NoError(t, err)

	m.Update(0.5)
	require.NoError(t, m.Pause(id))
	require.Equal(t, Paused, m.State(id))
	m.Update(1)
	lt, err := m.LocalTime(id)
	require.NoError(t, err)
	require.Equal(t, float32(0.5), lt)

	// Paused instances still drive the pose.
	require.NoError(t, m.Resolve())
	require.InDelta(t, 0.5, m.Pose().Local[boneC].Translation.X, 1e-5)

	require.NoError(t, m.Resume(id))
	require.Equal(t, Playing, m.State(id))
	m.Update(0.25)
	lt, _ = m.LocalTime(id)
	require.InDelta(t, 0.75, lt, 1e-6)
}

func TestLoopWrapsTime(t *testing.T) {
	m := newMixer(t)
	id, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: 1, Loop: true})
	require.NoError(t, err)

	m.Update(2.5)
	lt, _ := m.LocalTime(id)
	require.InDelta(t, 0.5, lt, 1e-6)

	require.NoError(t, m.SetRate(id, -1))
	m.Update(1)
	lt, _ = m.LocalTime(id)
	require.InDelta(t, 1.5, lt, 1e-6)

	require.NoError(t, m.SetRate(id, 2))
	m.Update(1)
	lt, _ = m.LocalTime(id)
	require.InDelta(t, 1.5, lt, 1e-6)
	require.Equal(t, 1, m.ActiveCount())
}

func TestNonLoopingClampsAndStops(t *testing.T) {
	events := core.NewEventSystem()
	var got []core.EventContext
	events.Register(core.EVENT_CODE_ANIMATION_COMPLETED, t, func(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
		got = append(got, data)
		return true
	})

	m := newMixer(t, WithEventSystem(events), WithName("hero"))
	require.Equal(t, "hero", m.Name())
	id, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: 1})
	require.NoError(t, err)
	require.NoError(t, m.Tick(1.5))
	require.InDelta(t, 1.5, m.Pose().Local[boneC].Translation.X, 1e-5)
	require.Empty(t, got)

	require.NoError(t, m.Tick(1.5))
	require.Equal(t, Stopped, m.State(id))
	require.Equal(t, 0, m.ActiveCount())
	_, err = m.LocalTime(id)
	require.ErrorIs(t, err, core.ErrUnknownInstance)

	require.Len(t, got, 1)
	require.Equal(t, uint32(id), got[0].Data.U32[0])
	require.Equal(t, float32(2), got[0].Data.F32[0])
	require.Equal(t, "ramp", got[0].Data.C[0])

	// The final frame is posed and kept once the instance is gone.
	require.InDelta(t, 2, m.Pose().Local[boneC].Translation.X, 1e-5)
	require.NoError(t, m.Tick(0.1))
	require.InDelta(t, 2, m.Pose().Local[boneC].Translation.X, 1e-5)
}

func TestFinalFrameIndependentOfTickSize(t *testing.T) {
	for _, delta := range []float32{0.3, 0.7, 1.9, 5} {
		m := newMixer(t)
		_, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: 1})
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			require.NoError(t, m.Tick(delta))
		}
		require.InDelta(t, 2, m.Pose().Local[boneC].Translation.X, 1e-5, "delta %v", delta)
	}

	// Backwards playback clamps to the first frame.
	m := newMixer(t)
	_, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: -1})
	require.NoError(t, err)
	require.NoError(t, m.Tick(0.5))
	require.Equal(t, 0, m.ActiveCount())
	require.InDelta(t, 0, m.Pose().Local[boneC].Translation.X, 1e-5)
}

func TestNonFiniteTimeRestartsInstance(t *testing.T) {
	m := newMixer(t)
	looping, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: math32.Inf(1), Loop: true})
	require.NoError(t, err)
	require.NoError(t, m.Tick(0.016))
	lt, err := m.LocalTime(looping)
	require.NoError(t, err)
	require.Equal(t, float32(0), lt)
	require.InDelta(t, 0, m.Pose().Local[boneC].Translation.X, 1e-5)

	m = newMixer(t)
	once, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: math32.Inf(1)})
	require.NoError(t, err)
	// 0 * Inf is NaN.
	require.NoError(t, m.Tick(0))
	lt, err = m.LocalTime(once)
	require.NoError(t, err)
	require.Equal(t, float32(0), lt)
	require.Equal(t, Playing, m.State(once))
}

func TestFinishedInstanceIsStoppedBeforeResolve(t *testing.T) {
	m := newMixer(t)
	id, err := m.Activate(ramp(t, boneC, 2), InstanceConfig{Weight: 1, Rate: 1})
	require.NoError(t, err)
	m.Update(3)
	require.Equal(t, Stopped, m.State(id))
	require.Equal(t, 0, m.ActiveCount())
	require.ErrorIs(t, m.Deactivate(id), core.ErrUnknownInstance)

	// The released id can be taken by a new instance; both are blended once.
	next, err := m.Activate(constant(t, "hold", boneC, 4), DefaultInstanceConfig())
	require.NoError(t, err)
	require.Equal(t, id, next)
	require.NoError(t, m.Resolve())
	require.InDelta(t, 3, m.Pose().Local[boneC].Translation.X, 1e-5)
	require.Equal(t, 1, m.ActiveCount())
	require.Equal(t, Playing, m.State(next))

	require.NoError(t, m.Resolve())
	require.InDelta(t, 4, m.Pose().Local[boneC].Translation.X, 1e-5)
}

func TestStartedEvent(t *testing.T) {
	events := core.NewEventSystem()
	started := ""
	events.Register(core.EVENT_CODE_ANIMATION_STARTED, t, func(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
		started = data.Data.C[0]
		return true
	})
	m := newMixer(t, WithEventSystem(events))
	_, err := m.Activate(constant(t, "idle", boneC, 0), DefaultInstanceConfig())
	require.NoError(t, err)
	require.Equal(t, "idle", started)
}

func TestUntouchedBonesKeepLastPose(t *testing.T) {
	m := newMixer(t)
	id, err := m.Activate(constant(t, "a", boneC, 7), DefaultInstanceConfig())
	require.NoError(t, err)
	require.NoError(t, m.Resolve())
	require.Equal(t, float32(7), m.Pose().Local[boneC].Translation.X)

	require.NoError(t, m.Deactivate(id))
	require.NoError(t, m.Resolve())
	pose := m.Pose()
	require.Equal(t, float32(7), pose.Local[boneC].Translation.X)
	require.Equal(t, math.NewVec3(0, 1, 0), pose.Local[boneU].Translation)
	require.Equal(t, math.NewQuatIdentity(), pose.Local[boneU].Rotation)
}

func TestMissingBoneTracksAreIgnored(t *testing.T) {
	var buf bytes.Buffer
	core.SetLogOutput(&buf)
	defer core.SetLogOutput(os.Stderr)

	anim := constant(t, "foreign", boneC, 3)
	ghost := animation.NewCoreTrack(99)
	require.NoError(t, ghost.AddKeyframe(animation.NewKeyframe(0, math.NewQuatIdentity(), math.NewVec3(9, 9, 9))))
	require.NoError(t, anim.AddTrack(ghost))

	m := newMixer(t)
	for i := 0; i < 2; i++ {
		_, err := m.Activate(anim, DefaultInstanceConfig())
		require.NoError(t, err)
	}
	require.NoError(t, m.Tick(0.1))
	require.InDelta(t, 3, m.Pose().Local[boneC].Translation.X, 1e-5)
	require.Equal(t, 1, strings.Count(buf.String(), "bone 99"))
}

func TestEmptyTrackFallsBackToRestPose(t *testing.T) {
	broken, err := animation.NewCoreAnimation("broken", 1)
	require.NoError(t, err)
	require.NoError(t, broken.AddTrack(animation.NewCoreTrack(boneC)))

	m := newMixer(t)
	_, err = m.Activate(broken, DefaultInstanceConfig())
	require.NoError(t, err)
	_, err = m.Activate(constant(t, "b", boneC, 4), DefaultInstanceConfig())
	require.NoError(t, err)
	require.NoError(t, m.Resolve())
	// Rest x=1 blended half way with x=4.
	require.InDelta(t, 2.5, m.Pose().Local[boneC].Translation.X, 1e-5)
}

func TestUnknownInstance(t *testing.T) {
	m := newMixer(t)
	const ghost = InstanceID(42)
	require.ErrorIs(t, m.Pause(ghost), core.ErrUnknownInstance)
	require.ErrorIs(t, m.Resume(ghost), core.ErrUnknownInstance)
	require.ErrorIs(t, m.Deactivate(ghost), core.ErrUnknownInstance)
	require.ErrorIs(t, m.SetRate(ghost, 1), core.ErrUnknownInstance)
	require.ErrorIs(t, m.SetWeight(ghost, 1), core.ErrUnknownInstance)
	require.Equal(t, Stopped, m.State(ghost))
	_, err := m.Activate(nil, DefaultInstanceConfig())
	require.Error(t, err)
}

func TestInstanceIDsAreRecycled(t *testing.T) {
	m := newMixer(t)
	anim := constant(t, "a", boneC, 1)
	first, _ := m.Activate(anim, DefaultInstanceConfig())
	second, _ := m.Activate(anim, DefaultInstanceConfig())
	require.NotEqual(t, first, second)

	require.NoError(t, m.Deactivate(first))
	third, _ := m.Activate(anim, DefaultInstanceConfig())
	require.Equal(t, first, third)
}

func TestPublishedPoseIsNeverPartial(t *testing.T) {
	m := newMixer(t)
	_, err := m.Activate(ramp(t, boneR, 4), DefaultInstanceConfig())
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			pose := m.Pose()
			want := math.Compose(pose.Absolute[boneR], pose.Local[boneC])
			if !want.Compare(pose.Absolute[boneC], 1e-5) {
				t.Errorf("torn pose: %v vs %v", want, pose.Absolute[boneC])
				return
			}
		}
	}()
	for i := 0; i < 500; i++ {
		require.NoError(t, m.Tick(0.01))
	}
	close(stop)
	wg.Wait()
}

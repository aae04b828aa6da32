package systems

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/mixer"
	"github.com/spaghettifunk/anima/engine/skeleton"
	"github.com/stretchr/testify/require"
)

func testRig() *loaders.RigFile {
	return &loaders.RigFile{
		Name: "biped",
		Bones: []loaders.BoneEntry{
			{Name: "root"},
			{Name: "spine", Parent: "root", Translation: [3]float32{0, 1, 0}},
			{Name: "head", Parent: "spine", Translation: [3]float32{0, 0.5, 0}},
		},
		Animations: []loaders.AnimationEntry{
			{
				Name:     "bob",
				Duration: 1,
				Tracks: []loaders.TrackEntry{{
					Bone: "root",
					Keyframes: []loaders.KeyframeEntry{
						{Time: 0},
						{Time: 1, Translation: [3]float32{0, 1, 0}},
					},
				}},
			},
		},
	}
}

func newAnimationSystem(t *testing.T) *AnimationSystem {
	t.Helper()
	as, err := NewAnimationSystem(&AnimationSystemConfig{MaxSkeletonCount: 2, MaxAnimationCount: 4})
	require.NoError(t, err)
	_, err = as.LoadRig(testRig())
	require.NoError(t, err)
	return as
}

func TestJobSystem(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	require.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	require.ErrorIs(t, err, ErrNegativeChannelSize)

	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)

	var ok, failed, finished atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, js.Submit(JobTask{
			Name:        fmt.Sprintf("job-%d", i),
			InputParams: i,
			OnStart: func(params interface{}) (interface{}, error) {
				if params.(int)%5 == 0 {
					return nil, errors.New("multiple of five")
				}
				return params.(int) * 2, nil
			},
			OnComplete: func(result interface{}) {
				ok.Add(1)
			},
			OnFailure: func(err error) {
				failed.Add(1)
			},
			OnCompletionCallback: func() {
				finished.Add(1)
				wg.Done()
			},
		}))
	}
	wg.Wait()
	require.Equal(t, int32(16), ok.Load())
	require.Equal(t, int32(4), failed.Load())
	require.Equal(t, int32(20), finished.Load())

	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	require.ErrorIs(t, js.Submit(JobTask{}), ErrJobSystemClosed)
}

func TestAddWorkNonBlockingReturnsWhileWorkersAreBusy(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, js.Submit(JobTask{
		Name: "busy",
		OnStart: func(interface{}) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		},
	}))
	<-started

	done := make(chan interface{}, 1)
	js.AddWorkNonBlocking(JobTask{
		Name:        "queued",
		InputParams: "rig.toml",
		OnStart: func(params interface{}) (interface{}, error) {
			return params, nil
		},
		OnComplete: func(result interface{}) {
			done <- result
		},
	})
	select {
	case <-done:
		t.Fatal("queued job ran while the only worker was busy")
	default:
	}

	close(release)
	select {
	case got := <-done:
		require.Equal(t, "rig.toml", got)
	case <-time.After(5 * time.Second):
		t.Fatal("queued job never ran")
	}
}

func TestAnimationSystemRegistry(t *testing.T) {
	_, err := NewAnimationSystem(&AnimationSystemConfig{})
	require.Error(t, err)

	as := newAnimationSystem(t)
	require.Equal(t, []string{"biped"}, as.SkeletonNames())
	require.Equal(t, []string{"bob"}, as.AnimationNames("biped"))
	require.Nil(t, as.AnimationNames("ghost"))

	skel, err := as.Skeleton("biped")
	require.NoError(t, err)
	require.Equal(t, 3, skel.BoneCount())
	_, err = as.Animation("biped", "bob")
	require.NoError(t, err)

	_, err = as.Skeleton("ghost")
	require.ErrorIs(t, err, core.ErrUnknownAsset)
	_, err = as.Animation("biped", "dance")
	require.ErrorIs(t, err, core.ErrUnknownAsset)

	short, _ := animation.NewCoreAnimation("short", 0.5)
	track := animation.NewCoreTrack(0)
	require.NoError(t, track.AddKeyframe(animation.NewKeyframe(1, math.NewQuatIdentity(), math.NewVec3Zero())))
	require.NoError(t, short.AddTrack(track))
	require.ErrorIs(t, as.RegisterAnimation("biped", short), core.ErrDurationTooShort)

	orphan, _ := animation.NewCoreAnimation("orphan", 1)
	require.ErrorIs(t, as.RegisterAnimation("ghost", orphan), core.ErrUnknownAsset)

	loose, _ := skeleton.NewCoreSkeleton("loose")
	require.ErrorIs(t, as.RegisterSkeleton(loose), core.ErrSkeletonNotFrozen)
}

func TestAnimationSystemLimits(t *testing.T) {
	as := newAnimationSystem(t)
	for i := 0; i < 3; i++ {
		a, _ := animation.NewCoreAnimation(fmt.Sprintf("a%d", i), 1)
		require.NoError(t, as.RegisterAnimation("biped", a))
	}
	require.Equal(t, uint32(4), as.AnimationCount())
	extra, _ := animation.NewCoreAnimation("extra", 1)
	require.Error(t, as.RegisterAnimation("biped", extra))

	// Replacing an existing name does not count twice.
	again, _ := animation.NewCoreAnimation("a0", 2)
	require.NoError(t, as.RegisterAnimation("biped", again))
	require.Equal(t, uint32(4), as.AnimationCount())

	second := testRig()
	second.Name = "quadruped"
	second.Animations = nil
	_, err := as.LoadRig(second)
	require.NoError(t, err)
	third := testRig()
	third.Name = "octopus"
	_, err = as.LoadRig(third)
	require.Error(t, err)

	// Reloading the skeleton keeps the animations registered on their own.
	_, err = as.LoadRig(testRig())
	require.NoError(t, err)
	require.Equal(t, []string{"a0", "a1", "a2", "bob"}, as.AnimationNames("biped"))
	require.Equal(t, uint32(4), as.AnimationCount())
}

func TestSkeletonReloadRebindsAnimations(t *testing.T) {
	as := newAnimationSystem(t)
	_, err := as.LoadRig(&loaders.RigFile{
		Skeleton: "biped",
		Animations: []loaders.AnimationEntry{{
			Name:     "nod",
			Duration: 1,
			Tracks: []loaders.TrackEntry{{
				Bone:      "head",
				Keyframes: []loaders.KeyframeEntry{{Time: 0, Translation: [3]float32{5, 0, 0}}},
			}},
		}},
	})
	require.NoError(t, err)
	before, err := as.Skeleton("biped")
	require.NoError(t, err)
	headBefore, _ := before.BoneID("head")

	// Same bones in another order, and the rig's own animation renamed.
	reordered := testRig()
	reordered.Bones = []loaders.BoneEntry{reordered.Bones[0], reordered.Bones[2], reordered.Bones[1]}
	reordered.Animations[0].Name = "bounce"
	_, err = as.LoadRig(reordered)
	require.NoError(t, err)
	require.Equal(t, []string{"bounce", "nod"}, as.AnimationNames("biped"))
	require.Equal(t, uint32(2), as.AnimationCount())

	skel, err := as.Skeleton("biped")
	require.NoError(t, err)
	head, ok := skel.BoneID("head")
	require.True(t, ok)
	require.NotEqual(t, headBefore, head)
	nod, err := as.Animation("biped", "nod")
	require.NoError(t, err)
	track, ok := nod.Track(head)
	require.True(t, ok)
	sample, err := track.SampleAt(0)
	require.NoError(t, err)
	require.Equal(t, float32(5), sample.Translation.X)

	// Tracks of bones that are gone are left out.
	headless := testRig()
	headless.Bones = headless.Bones[:2]
	_, err = as.LoadRig(headless)
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "nod"}, as.AnimationNames("biped"))
	nod, err = as.Animation("biped", "nod")
	require.NoError(t, err)
	require.Empty(t, nod.Tracks())
}

func TestLoadRigAnimationOnly(t *testing.T) {
	as := newAnimationSystem(t)
	rig := &loaders.RigFile{
		Skeleton: "biped",
		Animations: []loaders.AnimationEntry{{
			Name:     "nod",
			Duration: 1,
			Tracks: []loaders.TrackEntry{{
				Bone:      "head",
				Keyframes: []loaders.KeyframeEntry{{Time: 0}},
			}},
		}},
	}
	name, err := as.LoadRig(rig)
	require.NoError(t, err)
	require.Equal(t, "biped", name)
	require.Equal(t, []string{"bob", "nod"}, as.AnimationNames("biped"))

	rig.Skeleton = "ghost"
	_, err = as.LoadRig(rig)
	require.ErrorIs(t, err, core.ErrUnknownAsset)
}

func newCharacterSystem(t *testing.T, max uint32, workers int) *CharacterSystem {
	t.Helper()
	cs, err := NewCharacterSystem(&CharacterSystemConfig{MaxCharacterCount: max, Workers: workers}, newAnimationSystem(t), core.NewEventSystem())
	require.NoError(t, err)
	return cs
}

func TestCharacterSystemLifecycle(t *testing.T) {
	_, err := NewCharacterSystem(&CharacterSystemConfig{MaxCharacterCount: 1}, nil, nil)
	require.ErrorIs(t, err, ErrNoWorkers)

	cs := newCharacterSystem(t, 2, 1)
	a, err := cs.Spawn("a", "biped")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, a.ID)
	b, err := cs.Spawn("b", "biped")
	require.NoError(t, err)
	_, err = cs.Spawn("c", "biped")
	require.Error(t, err)
	_, err = cs.Spawn("d", "ghost")
	require.ErrorIs(t, err, core.ErrUnknownAsset)

	require.Equal(t, []*Character{a, b}, cs.Characters())
	got, err := cs.Character(b.ID)
	require.NoError(t, err)
	require.Same(t, b, got)

	_, err = cs.Play(a.ID, "bob", mixer.DefaultInstanceConfig())
	require.NoError(t, err)
	_, err = cs.Play(a.ID, "dance", mixer.DefaultInstanceConfig())
	require.ErrorIs(t, err, core.ErrUnknownAsset)
	_, err = cs.Play(uuid.New(), "bob", mixer.DefaultInstanceConfig())
	require.ErrorIs(t, err, core.ErrUnknownAsset)

	require.NoError(t, cs.Despawn(a.ID))
	require.ErrorIs(t, cs.Despawn(a.ID), core.ErrUnknownAsset)
	require.Equal(t, 1, cs.Count())
	require.NoError(t, cs.Shutdown())
	require.Equal(t, 0, cs.Count())
}

func TestUpdateAllResolvesCharactersInParallel(t *testing.T) {
	const count = 64
	cs := newCharacterSystem(t, count, 8)

	rates := make([]float32, count)
	for i := 0; i < count; i++ {
		c, err := cs.Spawn(fmt.Sprintf("c%d", i), "biped")
		require.NoError(t, err)
		rates[i] = 0.1 + float32(i)/count
		_, err = cs.Play(c.ID, "bob", mixer.InstanceConfig{Weight: 1, Rate: rates[i], Loop: true})
		require.NoError(t, err)
	}

	require.NoError(t, cs.UpdateAll(context.Background(), 0.5))

	for i, c := range cs.Characters() {
		pose := c.Mixer.Pose()
		want := math.Wrap(0.5*rates[i], 1)
		require.InDelta(t, want, pose.Absolute[0].Translation.Y, 1e-5, "character %d", i)
		// head = root + (0, 1.5, 0)
		require.InDelta(t, want+1.5, pose.Absolute[2].Translation.Y, 1e-5, "character %d", i)
	}
}

func TestUpdateAllHonoursCancelledContext(t *testing.T) {
	cs := newCharacterSystem(t, 4, 2)
	c, err := cs.Spawn("a", "biped")
	require.NoError(t, err)
	_, err = cs.Play(c.ID, "bob", mixer.DefaultInstanceConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, cs.UpdateAll(ctx, 0.5), context.Canceled)
	lt, err := c.Mixer.LocalTime(0)
	require.NoError(t, err)
	require.Equal(t, float32(0), lt)
}

func TestSystemManager(t *testing.T) {
	sm, err := NewSystemManager(&SystemManagerConfig{
		Workers:           2,
		MaxSkeletonCount:  1,
		MaxAnimationCount: 1,
		MaxCharacterCount: 1,
	}, core.NewEventSystem())
	require.NoError(t, err)

	_, err = sm.AnimationSystem.LoadRig(testRig())
	require.NoError(t, err)
	c, err := sm.CharacterSystem.Spawn("solo", "biped")
	require.NoError(t, err)
	_, err = sm.CharacterSystem.Play(c.ID, "bob", mixer.DefaultInstanceConfig())
	require.NoError(t, err)
	require.NoError(t, sm.Update(context.Background(), 0.25))
	require.InDelta(t, 0.25, c.Mixer.Pose().Absolute[0].Translation.Y, 1e-5)

	require.NoError(t, sm.Shutdown())

	_, err = NewSystemManager(&SystemManagerConfig{Workers: 0}, nil)
	require.ErrorIs(t, err, ErrNoWorkers)
}

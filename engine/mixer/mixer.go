package mixer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/skeleton"
)

type missingKey struct {
	animation *animation.CoreAnimation
	boneID    int
}

/**
 * @brief Plays any number of animations on one character. Every tick the
 * active instances are sampled, blended per bone in activation order and the
 * resulting local pose is resolved against the shared skeleton into a fresh
 * pose, which is then published atomically.
 */
type Mixer struct {
	mu       sync.Mutex
	name     string
	capacity int
	events   *core.EventSystem

	skeleton *skeleton.CoreSkeleton
	rest     []math.Transform
	// Last blended local pose; bones no instance drives keep their value.
	local     []math.Transform
	weightSum []float32

	ids       *core.IDPool
	instances []*instance
	warned    map[missingKey]struct{}

	published atomic.Pointer[skeleton.Pose]
}

// New creates a mixer for a frozen skeleton. The initial published pose is
// the resolved rest pose.
func New(skel *skeleton.CoreSkeleton, opts ...Option) (*Mixer, error) {
	if skel == nil || !skel.Frozen() {
		return nil, fmt.Errorf("create mixer: %w", core.ErrSkeletonNotFrozen)
	}
	m := &Mixer{
		name:     skel.Name(),
		capacity: 4,
		skeleton: skel,
		warned:   make(map[missingKey]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	pose, err := skel.NewPose()
	if err != nil {
		return nil, err
	}
	m.rest = make([]math.Transform, skel.BoneCount())
	copy(m.rest, pose.Local)
	m.local = make([]math.Transform, skel.BoneCount())
	copy(m.local, pose.Local)
	m.weightSum = make([]float32, skel.BoneCount())
	m.ids = core.NewIDPool(m.capacity)
	m.instances = make([]*instance, 0, m.capacity)
	m.published.Store(pose)
	return m, nil
}

func (m *Mixer) Name() string {
	return m.name
}

func (m *Mixer) Skeleton() *skeleton.CoreSkeleton {
	return m.skeleton
}

func (m *Mixer) find(id InstanceID) (*instance, int, error) {
	for i, inst := range m.instances {
		if !inst.finished && inst.id == id {
			return inst, i, nil
		}
	}
	return nil, -1, fmt.Errorf("mixer '%s' instance %d: %w", m.name, id, core.ErrUnknownInstance)
}

// warnOnce logs msg the first time it is reported for this animation and bone.
func (m *Mixer) warnOnce(anim *animation.CoreAnimation, boneID int, msg string, args ...interface{}) {
	key := missingKey{animation: anim, boneID: boneID}
	if _, ok := m.warned[key]; ok {
		return
	}
	m.warned[key] = struct{}{}
	core.LogWarn(msg, args...)
}

func (m *Mixer) bind(anim *animation.CoreAnimation) []binding {
	bound := make([]bool, m.skeleton.BoneCount())
	bindings := make([]binding, 0, len(anim.Tracks()))
	for _, track := range anim.Tracks() {
		id := track.BoneID()
		if id < 0 || id >= len(bound) {
			m.warnOnce(anim, id, "mixer '%s': animation '%s' has a track for bone %d which is not in skeleton '%s', ignoring it",
				m.name, anim.Name(), id, m.skeleton.Name())
			continue
		}
		if bound[id] {
			core.LogDebug("mixer '%s': animation '%s' has more than one track for bone %d, using the first", m.name, anim.Name(), id)
			continue
		}
		if track.KeyframeCount() == 0 {
			m.warnOnce(anim, id, "mixer '%s': animation '%s' track for bone %d is empty, using the rest pose", m.name, anim.Name(), id)
		}
		bound[id] = true
		bindings = append(bindings, binding{boneID: id, track: track})
	}
	return bindings
}

/**
 * @brief Starts playing anim from time 0.
 *
 * @param anim The animation, it must not be modified while it plays.
 * @param cfg Weight, rate and looping of the new instance.
 * @return The id of the instance.
 */
func (m *Mixer) Activate(anim *animation.CoreAnimation, cfg InstanceConfig) (InstanceID, error) {
	if anim == nil {
		return 0, fmt.Errorf("mixer '%s' activate: %w", m.name, core.ErrUnknownAsset)
	}
	if cfg.Weight < 0 {
		return 0, fmt.Errorf("mixer '%s' activate '%s' with weight %f: %w", m.name, anim.Name(), cfg.Weight, core.ErrOutOfRange)
	}

	m.mu.Lock()
	inst := &instance{
		animation: anim,
		state:     Playing,
		weight:    cfg.Weight,
		rate:      cfg.Rate,
		loop:      cfg.Loop,
		bindings:  m.bind(anim),
	}
	inst.id = InstanceID(m.ids.Acquire(inst))
	m.instances = append(m.instances, inst)
	m.mu.Unlock()

	if m.events != nil {
		ctx := core.EventContext{}
		ctx.Data.U32[0] = uint32(inst.id)
		ctx.Data.C[0] = anim.Name()
		m.events.Fire(core.EVENT_CODE_ANIMATION_STARTED, m, ctx)
	}
	return inst.id, nil
}

// Deactivate stops the instance and removes it. Its id may be reused.
func (m *Mixer) Deactivate(id InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, idx, err := m.find(id)
	if err != nil {
		return err
	}
	m.remove(idx)
	return nil
}

func (m *Mixer) remove(idx int) {
	inst := m.instances[idx]
	m.instances = append(m.instances[:idx], m.instances[idx+1:]...)
	m.release(inst)
}

func (m *Mixer) release(inst *instance) {
	inst.state = Stopped
	if err := m.ids.Release(uint32(inst.id)); err != nil {
		core.LogError("mixer '%s': %s", m.name, err)
	}
}

// Pause freezes the local time of a playing instance. It keeps contributing
// to the pose.
func (m *Mixer) Pause(id InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, _, err := m.find(id)
	if err != nil {
		return err
	}
	inst.state = Paused
	return nil
}

func (m *Mixer) Resume(id InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, _, err := m.find(id)
	if err != nil {
		return err
	}
	inst.state = Playing
	return nil
}

func (m *Mixer) SetWeight(id InstanceID, weight float32) error {
	if weight < 0 {
		return fmt.Errorf("mixer '%s' instance %d weight %f: %w", m.name, id, weight, core.ErrOutOfRange)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, _, err := m.find(id)
	if err != nil {
		return err
	}
	inst.weight = weight
	return nil
}

func (m *Mixer) SetRate(id InstanceID, rate float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, _, err := m.find(id)
	if err != nil {
		return err
	}
	inst.rate = rate
	return nil
}

// State returns Stopped for ids that are not active.
func (m *Mixer) State(id InstanceID) InstanceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, _, err := m.find(id)
	if err != nil {
		return Stopped
	}
	return inst.state
}

func (m *Mixer) LocalTime(id InstanceID) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, _, err := m.find(id)
	if err != nil {
		return 0, err
	}
	return inst.localTime, nil
}

// ActiveCount returns the number of playing or paused instances.
func (m *Mixer) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, inst := range m.instances {
		if !inst.finished {
			count++
		}
	}
	return count
}

type completion struct {
	id        InstanceID
	localTime float32
	name      string
}

/**
 * @brief Advances every playing instance by delta scaled by its rate.
 * Looping instances wrap around their duration; the others are clamped and
 * stopped, firing EVENT_CODE_ANIMATION_COMPLETED. A stopped instance is
 * blended once more at its clamped time by the next Resolve, then dropped.
 */
func (m *Mixer) Update(delta float32) {
	m.mu.Lock()
	var done []completion
	for _, inst := range m.instances {
		if inst.state != Playing {
			continue
		}
		duration := inst.animation.Duration()
		inst.localTime += delta * inst.rate
		if math32.IsNaN(inst.localTime) {
			core.LogWarn("mixer '%s': animation '%s' (instance %d) time is NaN after advancing by %f at rate %f, restarting it",
				m.name, inst.animation.Name(), inst.id, delta, inst.rate)
			inst.localTime = 0
		}
		if inst.loop {
			inst.localTime = math.Wrap(inst.localTime, duration)
			continue
		}
		if inst.localTime >= 0 && inst.localTime < duration {
			continue
		}
		inst.localTime = math.Clamp(inst.localTime, 0, duration)
		inst.finished = true
		m.release(inst)
		done = append(done, completion{id: inst.id, localTime: inst.localTime, name: inst.animation.Name()})
	}
	m.mu.Unlock()

	for _, c := range done {
		core.LogDebug("mixer '%s': animation '%s' (instance %d) completed", m.name, c.name, c.id)
		if m.events == nil {
			continue
		}
		ctx := core.EventContext{}
		ctx.Data.U32[0] = uint32(c.id)
		ctx.Data.F32[0] = c.localTime
		ctx.Data.C[0] = c.name
		m.events.Fire(core.EVENT_CODE_ANIMATION_COMPLETED, m, ctx)
	}
}

/**
 * @brief Blends the active instances into the local pose, resolves the
 * hierarchy into a new pose and publishes it. Rotations are folded with a
 * running-weight slerp in activation order, so the result depends on that
 * order when more than two instances drive a bone.
 */
func (m *Mixer) Resolve() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.weightSum {
		m.weightSum[i] = 0
	}
	for _, inst := range m.instances {
		if !inst.contributes() {
			continue
		}
		for _, b := range inst.bindings {
			sample, err := b.track.SampleAt(inst.localTime)
			if err != nil {
				sample = m.rest[b.boneID]
			}
			first := m.weightSum[b.boneID] == 0
			m.weightSum[b.boneID] += inst.weight
			if first {
				m.local[b.boneID] = sample
				continue
			}
			m.local[b.boneID] = m.local[b.boneID].Blend(sample, inst.weight/m.weightSum[b.boneID])
		}
	}

	m.dropFinished()

	pose := &skeleton.Pose{
		Local:    make([]math.Transform, len(m.local)),
		Absolute: make([]math.Transform, len(m.local)),
	}
	copy(pose.Local, m.local)
	if err := m.skeleton.ResolvePose(pose); err != nil {
		return err
	}
	m.published.Store(pose)
	return nil
}

func (m *Mixer) dropFinished() {
	kept := m.instances[:0]
	for _, inst := range m.instances {
		if !inst.finished {
			kept = append(kept, inst)
		}
	}
	for i := len(kept); i < len(m.instances); i++ {
		m.instances[i] = nil
	}
	m.instances = kept
}

// Tick advances time by delta then resolves the pose.
func (m *Mixer) Tick(delta float32) error {
	m.Update(delta)
	return m.Resolve()
}

// Pose returns the last published pose. It is never modified afterwards
// and can be read from any goroutine.
func (m *Mixer) Pose() *skeleton.Pose {
	return m.published.Load()
}

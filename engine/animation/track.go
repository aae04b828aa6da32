package animation

import (
	"fmt"
	"sort"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
)

/**
 * @brief The timeline of a single bone inside an animation. Keyframes are
 * kept ordered by time; two keyframes may share a time, which authors an
 * instantaneous snap.
 */
type CoreTrack struct {
	boneID    int
	keyframes []Keyframe
}

func NewCoreTrack(boneID int) *CoreTrack {
	return &CoreTrack{
		boneID:    boneID,
		keyframes: []Keyframe{},
	}
}

func (t *CoreTrack) BoneID() int {
	return t.boneID
}

// AddKeyframe appends kf. Its time must not be negative nor earlier than the
// last keyframe.
func (t *CoreTrack) AddKeyframe(kf Keyframe) error {
	if kf.Time < 0 {
		return fmt.Errorf("track of bone %d keyframe at %f: %w", t.boneID, kf.Time, core.ErrNegativeTime)
	}
	if n := len(t.keyframes); n > 0 && kf.Time < t.keyframes[n-1].Time {
		return fmt.Errorf("track of bone %d keyframe at %f after %f: %w", t.boneID, kf.Time, t.keyframes[n-1].Time, core.ErrKeyframeOrder)
	}
	t.keyframes = append(t.keyframes, kf)
	return nil
}

// Keyframes returns the ordered keyframes. The slice must not be modified.
func (t *CoreTrack) Keyframes() []Keyframe {
	return t.keyframes
}

func (t *CoreTrack) KeyframeCount() int {
	return len(t.keyframes)
}

// StartTime returns the time of the first keyframe, 0 for an empty track.
func (t *CoreTrack) StartTime() float32 {
	if len(t.keyframes) == 0 {
		return 0
	}
	return t.keyframes[0].Time
}

// EndTime returns the time of the last keyframe, 0 for an empty track.
func (t *CoreTrack) EndTime() float32 {
	if len(t.keyframes) == 0 {
		return 0
	}
	return t.keyframes[len(t.keyframes)-1].Time
}

func (t *CoreTrack) Validate() error {
	if len(t.keyframes) == 0 {
		return fmt.Errorf("track of bone %d has no keyframes: %w", t.boneID, core.ErrInvalidTrack)
	}
	for i := 1; i < len(t.keyframes); i++ {
		if t.keyframes[i].Time < t.keyframes[i-1].Time {
			return fmt.Errorf("track of bone %d keyframe %d: %w", t.boneID, i, core.ErrKeyframeOrder)
		}
	}
	return nil
}

/**
 * @brief Samples the track at the given time. Times outside the keyframes
 * are clamped to the first or last keyframe. In between, translation is
 * interpolated linearly and rotation along the shortest arc.
 *
 * @param time The query time in seconds. NaN samples the first keyframe.
 * @return The sampled local transform, or ErrInvalidTrack for an empty track.
 */
func (t *CoreTrack) SampleAt(time float32) (math.Transform, error) {
	n := len(t.keyframes)
	if n == 0 {
		return math.NewTransformIdentity(), fmt.Errorf("sample track of bone %d: %w", t.boneID, core.ErrInvalidTrack)
	}
	first, last := t.keyframes[0], t.keyframes[n-1]
	if math32.IsNaN(time) || time < first.Time {
		return first.Transform(), nil
	}
	if time >= last.Time {
		return last.Transform(), nil
	}

	// k1 is the first keyframe strictly after time, so among keyframes
	// sharing a time the last one inserted becomes k0.
	i := sort.Search(n, func(i int) bool {
		return t.keyframes[i].Time > time
	})
	k0, k1 := t.keyframes[i-1], t.keyframes[i]

	var factor float32
	if span := k1.Time - k0.Time; span > 0 {
		factor = math.Clamp((time-k0.Time)/span, 0, 1)
	}
	if factor == 0 {
		return k0.Transform(), nil
	}
	return k0.Transform().Blend(k1.Transform(), factor), nil
}

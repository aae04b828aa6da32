package animation

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/anima/engine/core"
)

// DurationPolicy decides what Validate does with an animation whose
// duration is shorter than its last keyframe.
type DurationPolicy int

const (
	// DurationPolicyReject fails validation with ErrDurationTooShort.
	DurationPolicyReject DurationPolicy = iota
	// DurationPolicyExtend grows the duration to the last keyframe time.
	DurationPolicyExtend
)

func (p DurationPolicy) String() string {
	switch p {
	case DurationPolicyReject:
		return "reject"
	case DurationPolicyExtend:
		return "extend"
	}
	return fmt.Sprintf("DurationPolicy(%d)", int(p))
}

// ParseDurationPolicy maps "reject" or "extend" to a policy. The empty
// string selects the default, DurationPolicyReject.
func ParseDurationPolicy(s string) (DurationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return DurationPolicyReject, nil
	case "extend":
		return DurationPolicyExtend, nil
	}
	return DurationPolicyReject, fmt.Errorf("duration policy '%s': %w", s, core.ErrUnknown)
}

/**
 * @brief A named clip made of one track per animated bone. Once validated
 * it is read only and can be sampled by any number of mixers at once.
 */
type CoreAnimation struct {
	name     string
	duration float32
	tracks   []*CoreTrack
}

func NewCoreAnimation(name string, duration float32) (*CoreAnimation, error) {
	if name == "" {
		return nil, fmt.Errorf("create animation: %w", core.ErrEmptyName)
	}
	if duration < 0 {
		return nil, fmt.Errorf("create animation '%s' with duration %f: %w", name, duration, core.ErrNegativeDuration)
	}
	return &CoreAnimation{
		name:     name,
		duration: duration,
		tracks:   []*CoreTrack{},
	}, nil
}

func (a *CoreAnimation) Name() string {
	return a.name
}

func (a *CoreAnimation) Duration() float32 {
	return a.duration
}

func (a *CoreAnimation) SetDuration(duration float32) error {
	if duration < 0 {
		return fmt.Errorf("animation '%s' duration %f: %w", a.name, duration, core.ErrNegativeDuration)
	}
	a.duration = duration
	return nil
}

// AddTrack takes ownership of track.
func (a *CoreAnimation) AddTrack(track *CoreTrack) error {
	if track == nil {
		return fmt.Errorf("animation '%s' add nil track: %w", a.name, core.ErrInvalidTrack)
	}
	a.tracks = append(a.tracks, track)
	return nil
}

// Tracks returns the tracks in insertion order. The slice must not be modified.
func (a *CoreAnimation) Tracks() []*CoreTrack {
	return a.tracks
}

// Track returns the first track animating boneID.
func (a *CoreAnimation) Track(boneID int) (*CoreTrack, bool) {
	for _, t := range a.tracks {
		if t.boneID == boneID {
			return t, true
		}
	}
	return nil, false
}

/**
 * @brief Copies the animation onto another bone numbering. remap returns the
 * new id of a bone, or false when the bone no longer exists, in which case
 * its track is left out.
 *
 * @return The copy and the number of tracks left out.
 */
func (a *CoreAnimation) Remap(remap func(boneID int) (int, bool)) (*CoreAnimation, int) {
	out := &CoreAnimation{
		name:     a.name,
		duration: a.duration,
		tracks:   make([]*CoreTrack, 0, len(a.tracks)),
	}
	dropped := 0
	for _, t := range a.tracks {
		id, ok := remap(t.boneID)
		if !ok {
			dropped++
			continue
		}
		out.tracks = append(out.tracks, &CoreTrack{
			boneID:    id,
			keyframes: append([]Keyframe(nil), t.keyframes...),
		})
	}
	return out, dropped
}

func (a *CoreAnimation) MaxKeyframeTime() float32 {
	var max float32
	for _, t := range a.tracks {
		if end := t.EndTime(); end > max {
			max = end
		}
	}
	return max
}

/**
 * @brief Validates every track and checks the duration covers the last
 * keyframe, applying policy when it does not.
 */
func (a *CoreAnimation) Validate(policy DurationPolicy) error {
	for _, t := range a.tracks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("animation '%s': %w", a.name, err)
		}
	}
	maxTime := a.MaxKeyframeTime()
	if a.duration >= maxTime {
		return nil
	}
	switch policy {
	case DurationPolicyExtend:
		core.LogWarn("animation '%s' duration %f extended to its last keyframe at %f", a.name, a.duration, maxTime)
		a.duration = maxTime
		return nil
	default:
		return fmt.Errorf("animation '%s' duration %f ends before its last keyframe at %f: %w", a.name, a.duration, maxTime, core.ErrDurationTooShort)
	}
}

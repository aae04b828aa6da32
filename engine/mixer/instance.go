package mixer

import (
	"github.com/spaghettifunk/anima/engine/animation"
)

type InstanceID uint32

type InstanceState int

const (
	Stopped InstanceState = iota
	Playing
	Paused
)

func (s InstanceState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// InstanceConfig describes how an animation plays on a mixer.
type InstanceConfig struct {
	// Relative blend weight; instances with weight 0 do not contribute.
	Weight float32
	// Playback speed, negative plays backwards.
	Rate float32
	Loop bool
}

func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{
		Weight: 1,
		Rate:   1,
		Loop:   true,
	}
}

type binding struct {
	boneID int
	track  *animation.CoreTrack
}

type instance struct {
	id        InstanceID
	animation *animation.CoreAnimation
	state     InstanceState
	weight    float32
	rate      float32
	loop      bool
	localTime float32
	bindings  []binding
	// Completed and stopped, still blended by the next resolve at its
	// clamped time.
	finished bool
}

func (i *instance) contributes() bool {
	return (i.state != Stopped || i.finished) && i.weight > 0
}

package animation

import "github.com/spaghettifunk/anima/engine/math"

// Keyframe is one sample of a bone's local transform.
type Keyframe struct {
	Time        float32
	Rotation    math.Quaternion
	Translation math.Vec3
}

func NewKeyframe(time float32, rotation math.Quaternion, translation math.Vec3) Keyframe {
	return Keyframe{
		Time:        time,
		Rotation:    rotation,
		Translation: translation,
	}
}

func (k Keyframe) Transform() math.Transform {
	return math.NewTransform(k.Rotation, k.Translation)
}

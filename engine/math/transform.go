package math

func NewTransformIdentity() Transform {
	return Transform{
		Rotation:    NewQuatIdentity(),
		Translation: NewVec3Zero(),
	}
}

func NewTransform(rotation Quaternion, translation Vec3) Transform {
	return Transform{
		Rotation:    rotation,
		Translation: translation,
	}
}

// Compose expresses local, given relative to parent, in the frame parent is
// expressed in. The parent rotation is applied to the local translation
// before the parent translation is added.
func Compose(parent, local Transform) Transform {
	return Transform{
		Rotation:    parent.Rotation.Mul(local.Rotation),
		Translation: local.Translation.Rotate(parent.Rotation).Add(parent.Translation),
	}
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	inv := t.Rotation.Inverse()
	return Transform{
		Rotation:    inv,
		Translation: t.Translation.MulScalar(-1).Rotate(inv),
	}
}

// TransformPoint maps a point from the frame of t into its parent frame.
func (t Transform) TransformPoint(p Vec3) Vec3 {
	return p.Rotate(t.Rotation).Add(t.Translation)
}

// Blend interpolates towards other: rotation by shortest-arc slerp,
// translation linearly.
func (t Transform) Blend(other Transform, factor float32) Transform {
	return Transform{
		Rotation:    t.Rotation.Slerp(other.Rotation, factor),
		Translation: t.Translation.Lerp(other.Translation, factor),
	}
}

func (t Transform) Compare(other Transform, tolerance float32) bool {
	return t.Rotation.Compare(other.Rotation, tolerance) && t.Translation.Compare(other.Translation, tolerance)
}

package math

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

/** @brief A quaternion, used to represent rotational orientation. */
type Quaternion struct {
	X, Y, Z, W float32
}

/**
 * @brief Represents a rigid transform made of a rotation followed by a
 * translation. Bones store their local and absolute state with it.
 * Scale is intentionally absent: skeleton poses are rigid.
 */
type Transform struct {
	/** @brief The orientation relative to the parent frame. */
	Rotation Quaternion
	/** @brief The offset relative to the parent frame. */
	Translation Vec3
}

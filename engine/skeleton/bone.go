package skeleton

import (
	"fmt"
	"slices"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
)

// NoParent is the parent id of a root bone.
const NoParent = -1

/**
 * @brief A single joint of a skeleton. Bones reference each other by id
 * through the owning CoreSkeleton; they never hold pointers to each other.
 */
type CoreBone struct {
	/** @brief Index in the owning skeleton, -1 until the bone is added. */
	id   int
	name string
	/** @brief The id of the parent, NoParent for roots. */
	parentID int
	childIDs []int
	/** @brief Rest (or last set) pose relative to the parent. */
	local math.Transform
	/** @brief Valid after CalculateState. */
	absolute math.Transform
	/** @brief Brings a model space point into the space of this bone. */
	boneSpace math.Transform
	length    float32

	skeleton *CoreSkeleton
}

// NewCoreBone creates a detached bone. The name is immutable and must not be empty.
func NewCoreBone(name string) (*CoreBone, error) {
	if name == "" {
		return nil, fmt.Errorf("create bone: %w", core.ErrEmptyName)
	}
	return &CoreBone{
		id:        -1,
		name:      name,
		parentID:  NoParent,
		local:     math.NewTransformIdentity(),
		absolute:  math.NewTransformIdentity(),
		boneSpace: math.NewTransformIdentity(),
	}, nil
}

func (b *CoreBone) ID() int {
	return b.id
}

func (b *CoreBone) Name() string {
	return b.name
}

func (b *CoreBone) ParentID() int {
	return b.parentID
}

func (b *CoreBone) IsRoot() bool {
	return b.parentID == NoParent
}

// ChildIDs returns the ordered child list. The slice must not be modified.
func (b *CoreBone) ChildIDs() []int {
	return b.childIDs
}

func (b *CoreBone) frozen() bool {
	return b.skeleton != nil && b.skeleton.frozen
}

// AddChildID appends id to the child list. Self references, duplicates and
// ids that are already ancestors of b are rejected and logged.
func (b *CoreBone) AddChildID(id int) error {
	if b.frozen() {
		return fmt.Errorf("bone '%s' add child %d: %w", b.name, id, core.ErrSkeletonFrozen)
	}
	if b.id >= 0 && id == b.id {
		core.LogError("bone '%s' cannot be its own child", b.name)
		return fmt.Errorf("bone '%s' add child %d: %w", b.name, id, core.ErrCyclicHierarchy)
	}
	if slices.Contains(b.childIDs, id) {
		core.LogError("bone '%s' already has child %d", b.name, id)
		return fmt.Errorf("bone '%s' add child %d: %w", b.name, id, core.ErrDuplicateChild)
	}
	if b.skeleton != nil && b.skeleton.isAncestor(id, b.id) {
		core.LogError("bone '%s' adding child %d would create a cycle", b.name, id)
		return fmt.Errorf("bone '%s' add child %d: %w", b.name, id, core.ErrCyclicHierarchy)
	}
	b.childIDs = append(b.childIDs, id)
	return nil
}

// SetParentID sets the parent; NoParent makes the bone a root.
func (b *CoreBone) SetParentID(id int) error {
	if b.frozen() {
		return fmt.Errorf("bone '%s' set parent %d: %w", b.name, id, core.ErrSkeletonFrozen)
	}
	if id < NoParent {
		id = NoParent
	}
	b.parentID = id
	return nil
}

func (b *CoreBone) Rotation() math.Quaternion {
	return b.local.Rotation
}

func (b *CoreBone) SetRotation(rotation math.Quaternion) {
	b.local.Rotation = rotation
}

func (b *CoreBone) Translation() math.Vec3 {
	return b.local.Translation
}

func (b *CoreBone) SetTranslation(translation math.Vec3) {
	b.local.Translation = translation
}

// Local returns the rest pose relative to the parent.
func (b *CoreBone) Local() math.Transform {
	return b.local
}

func (b *CoreBone) RotationAbsolute() math.Quaternion {
	return b.absolute.Rotation
}

func (b *CoreBone) TranslationAbsolute() math.Vec3 {
	return b.absolute.Translation
}

func (b *CoreBone) Absolute() math.Transform {
	return b.absolute
}

func (b *CoreBone) RotationBoneSpace() math.Quaternion {
	return b.boneSpace.Rotation
}

func (b *CoreBone) SetRotationBoneSpace(rotation math.Quaternion) {
	b.boneSpace.Rotation = rotation
}

func (b *CoreBone) TranslationBoneSpace() math.Vec3 {
	return b.boneSpace.Translation
}

func (b *CoreBone) SetTranslationBoneSpace(translation math.Vec3) {
	b.boneSpace.Translation = translation
}

func (b *CoreBone) BoneSpace() math.Transform {
	return b.boneSpace
}

func (b *CoreBone) Length() float32 {
	return b.length
}

func (b *CoreBone) SetLength(length float32) {
	b.length = length
}

// ModelToBoneSpace brings a model space point into the space of this bone.
func (b *CoreBone) ModelToBoneSpace(p math.Vec3) math.Vec3 {
	return b.boneSpace.TransformPoint(p)
}

// BoneSpaceToModel is the inverse of ModelToBoneSpace.
func (b *CoreBone) BoneSpaceToModel(p math.Vec3) math.Vec3 {
	return b.boneSpace.Inverse().TransformPoint(p)
}

/**
 * @brief Calculates the absolute state of this bone and then of all its
 * descendants, parents always before their children. A detached bone can
 * only resolve itself as a root.
 *
 * @return An error if a parent or child id cannot be resolved.
 */
func (b *CoreBone) CalculateState() error {
	if b.skeleton == nil {
		if !b.IsRoot() {
			return fmt.Errorf("bone '%s' is not attached to a skeleton: %w", b.name, core.ErrDanglingReference)
		}
		b.absolute = b.local
		if len(b.childIDs) > 0 {
			return fmt.Errorf("bone '%s' has children but no skeleton: %w", b.name, core.ErrDanglingReference)
		}
		return nil
	}
	return b.skeleton.calculateFrom(b.id)
}

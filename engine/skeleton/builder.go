package skeleton

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
)

// BoneSpec describes one bone for the Builder. An empty Parent makes a root
// and a zero Rotation is read as identity.
type BoneSpec struct {
	Name        string
	Parent      string
	Rotation    math.Quaternion
	Translation math.Vec3
	Length      float32
	// Nil means the bone space is derived from the rest pose.
	BoneSpace *math.Transform
}

// Builder assembles a skeleton from bones named by their parent, wiring the
// parent and child ids both ways. Parents may be declared after their children.
type Builder struct {
	name  string
	specs []BoneSpec
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Bone declares a bone with the given rest pose. A zero rotation is not a
// quaternion; it is logged and read as identity.
func (b *Builder) Bone(name, parent string, rotation math.Quaternion, translation math.Vec3) *Builder {
	if rotation == (math.Quaternion{}) {
		core.LogWarn("skeleton '%s' bone '%s' has a zero rotation quaternion, using identity", b.name, name)
		rotation = math.NewQuatIdentity()
	}
	return b.Add(BoneSpec{Name: name, Parent: parent, Rotation: rotation, Translation: translation})
}

func (b *Builder) Add(spec BoneSpec) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

/**
 * @brief Creates, validates and freezes the skeleton. The rest state and the
 * bone spaces are calculated before returning.
 *
 * @return The frozen skeleton, or nil and every error found.
 */
func (b *Builder) Build() (*CoreSkeleton, error) {
	s, err := NewCoreSkeleton(b.name)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, spec := range b.specs {
		bone, err := NewCoreBone(spec.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if spec.Rotation == (math.Quaternion{}) {
			spec.Rotation = math.NewQuatIdentity()
		}
		bone.SetRotation(spec.Rotation)
		bone.SetTranslation(spec.Translation)
		bone.SetLength(spec.Length)
		if _, err := s.AddBone(bone); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, spec := range b.specs {
		if spec.Parent == "" {
			continue
		}
		id, _ := s.BoneID(spec.Name)
		parentID, ok := s.BoneID(spec.Parent)
		if !ok {
			errs = append(errs, fmt.Errorf("bone '%s' parent '%s': %w", spec.Name, spec.Parent, core.ErrDanglingReference))
			continue
		}
		if parentID == id {
			errs = append(errs, fmt.Errorf("bone '%s' is its own parent: %w", spec.Name, core.ErrCyclicHierarchy))
			continue
		}
		// Cycles are left to Freeze, which reports them with the full structure in place.
		s.bones[id].parentID = parentID
		s.bones[parentID].childIDs = append(s.bones[parentID].childIDs, id)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := s.Freeze(); err != nil {
		return nil, err
	}
	if err := s.CalculateState(); err != nil {
		return nil, err
	}
	s.CalculateBoneSpace()
	for _, spec := range b.specs {
		if spec.BoneSpace == nil {
			continue
		}
		id, _ := s.BoneID(spec.Name)
		s.bones[id].boneSpace = *spec.BoneSpace
	}
	return s, nil
}

package skeleton

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
)

// Pose holds the per-instance transforms of every bone of one skeleton,
// indexed by bone id.
type Pose struct {
	Local    []math.Transform
	Absolute []math.Transform
}

func newPose(count int) *Pose {
	p := &Pose{
		Local:    make([]math.Transform, count),
		Absolute: make([]math.Transform, count),
	}
	for i := 0; i < count; i++ {
		p.Local[i] = math.NewTransformIdentity()
		p.Absolute[i] = math.NewTransformIdentity()
	}
	return p
}

func (p *Pose) BoneCount() int {
	return len(p.Local)
}

// CopyFrom overwrites p with other. Both poses must have the same size.
func (p *Pose) CopyFrom(other *Pose) {
	copy(p.Local, other.Local)
	copy(p.Absolute, other.Absolute)
}

// Clone returns a deep copy of p.
func (p *Pose) Clone() *Pose {
	c := &Pose{
		Local:    make([]math.Transform, len(p.Local)),
		Absolute: make([]math.Transform, len(p.Absolute)),
	}
	c.CopyFrom(p)
	return c
}

// NewPose returns a pose sized for the skeleton, set to the resolved rest pose.
func (s *CoreSkeleton) NewPose() (*Pose, error) {
	p := newPose(len(s.bones))
	s.RestPose(p)
	if err := s.ResolvePose(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RestPose writes the local rest transform of every bone into pose.Local.
func (s *CoreSkeleton) RestPose(pose *Pose) {
	for i, b := range s.bones {
		if i >= len(pose.Local) {
			return
		}
		pose.Local[i] = b.local
	}
}

/**
 * @brief Resolves the absolute transforms of a pose from its local ones,
 * walking the frozen topological order. The skeleton is only read, so any
 * number of poses can be resolved against it concurrently.
 */
func (s *CoreSkeleton) ResolvePose(pose *Pose) error {
	if !s.frozen {
		return fmt.Errorf("skeleton '%s' resolve pose: %w", s.name, core.ErrSkeletonNotFrozen)
	}
	if len(pose.Local) != len(s.bones) || len(pose.Absolute) != len(s.bones) {
		return fmt.Errorf("skeleton '%s' resolve pose of %d bones, want %d: %w",
			s.name, len(pose.Local), len(s.bones), core.ErrOutOfRange)
	}
	for _, id := range s.order {
		parent := s.bones[id].parentID
		if parent == NoParent {
			pose.Absolute[id] = pose.Local[id]
			continue
		}
		pose.Absolute[id] = math.Compose(pose.Absolute[parent], pose.Local[id])
	}
	return nil
}

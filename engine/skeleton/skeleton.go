package skeleton

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/containers"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
)

/**
 * @brief Owns every bone of a hierarchy. Bones are stored densely and
 * addressed by id; once frozen the topology never changes and the skeleton
 * can be shared by any number of concurrently resolving poses.
 */
type CoreSkeleton struct {
	name   string
	bones  []*CoreBone
	byName map[string]int
	// Valid only once frozen.
	rootIDs []int
	order   []int
	frozen  bool
}

func NewCoreSkeleton(name string) (*CoreSkeleton, error) {
	if name == "" {
		return nil, fmt.Errorf("create skeleton: %w", core.ErrEmptyName)
	}
	return &CoreSkeleton{
		name:   name,
		bones:  []*CoreBone{},
		byName: make(map[string]int),
	}, nil
}

func (s *CoreSkeleton) Name() string {
	return s.name
}

func (s *CoreSkeleton) Frozen() bool {
	return s.frozen
}

// AddBone takes ownership of bone and assigns it the next dense id.
func (s *CoreSkeleton) AddBone(bone *CoreBone) (int, error) {
	if s.frozen {
		return -1, fmt.Errorf("skeleton '%s' add bone: %w", s.name, core.ErrSkeletonFrozen)
	}
	if bone == nil || bone.name == "" {
		return -1, fmt.Errorf("skeleton '%s' add bone: %w", s.name, core.ErrEmptyName)
	}
	if _, ok := s.byName[bone.name]; ok {
		return -1, fmt.Errorf("skeleton '%s' add bone '%s': %w", s.name, bone.name, core.ErrDuplicateBone)
	}
	if bone.skeleton != nil {
		return -1, fmt.Errorf("skeleton '%s' add bone '%s': already owned by '%s': %w", s.name, bone.name, bone.skeleton.name, core.ErrDuplicateBone)
	}
	id := len(s.bones)
	bone.id = id
	bone.skeleton = s
	s.bones = append(s.bones, bone)
	s.byName[bone.name] = id
	return id, nil
}

func (s *CoreSkeleton) Bone(id int) (*CoreBone, error) {
	if id < 0 || id >= len(s.bones) {
		return nil, fmt.Errorf("skeleton '%s' bone %d: %w", s.name, id, core.ErrOutOfRange)
	}
	return s.bones[id], nil
}

// BoneID returns the id of the named bone, or -1 and false.
func (s *CoreSkeleton) BoneID(name string) (int, bool) {
	id, ok := s.byName[name]
	if !ok {
		return -1, false
	}
	return id, true
}

func (s *CoreSkeleton) BoneCount() int {
	return len(s.bones)
}

// Bones returns the bone arena indexed by id. The slice must not be modified.
func (s *CoreSkeleton) Bones() []*CoreBone {
	return s.bones
}

// RootIDs returns the ids of the bones without a parent, in id order.
func (s *CoreSkeleton) RootIDs() []int {
	if s.frozen {
		return s.rootIDs
	}
	roots := []int{}
	for _, b := range s.bones {
		if b.parentID == NoParent {
			roots = append(roots, b.id)
		}
	}
	return roots
}

// Order returns the topological order computed at freeze time, parents first.
func (s *CoreSkeleton) Order() []int {
	return s.order
}

func (s *CoreSkeleton) inRange(id int) bool {
	return id >= 0 && id < len(s.bones)
}

// isAncestor reports whether candidate is id itself or one of its ancestors.
// The walk is bounded so a malformed parent chain cannot loop forever.
func (s *CoreSkeleton) isAncestor(candidate, id int) bool {
	for steps := 0; s.inRange(id) && steps <= len(s.bones); steps++ {
		if id == candidate {
			return true
		}
		id = s.bones[id].parentID
	}
	return false
}

/**
 * @brief Checks the structure of the hierarchy and computes its topological
 * order. Nothing on the skeleton is changed.
 *
 * @return The order, roots first, or the first structural error found.
 */
func (s *CoreSkeleton) Validate() ([]int, error) {
	roots := []int{}
	for _, b := range s.bones {
		switch {
		case b.parentID == b.id:
			return nil, fmt.Errorf("bone '%s' is its own parent: %w", b.name, core.ErrCyclicHierarchy)
		case b.parentID == NoParent:
			roots = append(roots, b.id)
		case !s.inRange(b.parentID):
			return nil, fmt.Errorf("bone '%s' parent %d: %w", b.name, b.parentID, core.ErrDanglingReference)
		}
		for _, c := range b.childIDs {
			if !s.inRange(c) {
				return nil, fmt.Errorf("bone '%s' child %d: %w", b.name, c, core.ErrDanglingReference)
			}
			if s.bones[c].parentID != b.id {
				return nil, fmt.Errorf("bone '%s' lists child '%s' whose parent is %d: %w",
					b.name, s.bones[c].name, s.bones[c].parentID, core.ErrDanglingReference)
			}
		}
		if b.parentID != NoParent {
			found := false
			for _, c := range s.bones[b.parentID].childIDs {
				if c == b.id {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("bone '%s' is not listed as a child of '%s': %w",
					b.name, s.bones[b.parentID].name, core.ErrDanglingReference)
			}
		}
	}

	order := make([]int, 0, len(s.bones))
	visited := make([]bool, len(s.bones))
	queue := containers.NewRingQueue[int](len(s.bones))
	for _, r := range roots {
		visited[r] = true
		if err := queue.Enqueue(r); err != nil {
			return nil, err
		}
	}
	for !queue.IsEmpty() {
		id, err := queue.Dequeue()
		if err != nil {
			return nil, err
		}
		order = append(order, id)
		for _, c := range s.bones[id].childIDs {
			if visited[c] {
				return nil, fmt.Errorf("bone '%s' child %d reached twice: %w", s.bones[id].name, c, core.ErrDuplicateChild)
			}
			visited[c] = true
			if err := queue.Enqueue(c); err != nil {
				return nil, err
			}
		}
	}
	if len(order) != len(s.bones) {
		for id, ok := range visited {
			if !ok {
				return nil, fmt.Errorf("bone '%s' is unreachable from any root: %w", s.bones[id].name, core.ErrCyclicHierarchy)
			}
		}
	}
	return order, nil
}

// Freeze validates the skeleton and locks its topology. Freezing twice is a no-op.
func (s *CoreSkeleton) Freeze() error {
	if s.frozen {
		return nil
	}
	order, err := s.Validate()
	if err != nil {
		core.LogError("skeleton '%s' failed validation: %s", s.name, err)
		return err
	}
	s.order = order
	s.rootIDs = s.RootIDs()
	s.frozen = true
	return nil
}

// CalculateState resolves the rest pose of every bone in place.
func (s *CoreSkeleton) CalculateState() error {
	if s.frozen {
		for _, id := range s.order {
			s.computeAbsolute(s.bones[id])
		}
		return nil
	}
	for _, r := range s.RootIDs() {
		if err := s.calculateFrom(r); err != nil {
			return err
		}
	}
	return nil
}

// CalculateBoneSpace sets every bone space transform to the inverse of the
// bone's absolute rest transform. Call after CalculateState.
func (s *CoreSkeleton) CalculateBoneSpace() {
	for _, b := range s.bones {
		b.boneSpace = b.absolute.Inverse()
	}
}

func (s *CoreSkeleton) computeAbsolute(b *CoreBone) {
	if b.parentID == NoParent {
		b.absolute = b.local
		return
	}
	b.absolute = math.Compose(s.bones[b.parentID].absolute, b.local)
}

// calculateFrom resolves the subtree rooted at id depth first with an
// explicit stack, children in list order.
func (s *CoreSkeleton) calculateFrom(id int) error {
	if !s.inRange(id) {
		return fmt.Errorf("skeleton '%s' calculate bone %d: %w", s.name, id, core.ErrOutOfRange)
	}
	if p := s.bones[id].parentID; p != NoParent && !s.inRange(p) {
		return fmt.Errorf("bone '%s' parent %d: %w", s.bones[id].name, p, core.ErrDanglingReference)
	}
	visited := make([]bool, len(s.bones))
	stack := []int{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			return fmt.Errorf("bone '%s' reached twice: %w", s.bones[cur].name, core.ErrCyclicHierarchy)
		}
		visited[cur] = true
		b := s.bones[cur]
		s.computeAbsolute(b)
		for i := len(b.childIDs) - 1; i >= 0; i-- {
			c := b.childIDs[i]
			if !s.inRange(c) {
				return fmt.Errorf("bone '%s' child %d: %w", b.name, c, core.ErrDanglingReference)
			}
			if s.bones[c].parentID != cur {
				return fmt.Errorf("bone '%s' lists child '%s' whose parent is %d: %w",
					b.name, s.bones[c].name, s.bones[c].parentID, core.ErrDanglingReference)
			}
			stack = append(stack, c)
		}
	}
	return nil
}

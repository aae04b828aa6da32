package systems

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/skeleton"
)

/** @brief The animation system configuration. */
type AnimationSystemConfig struct {
	/** @brief The maximum number of skeletons that can be registered. */
	MaxSkeletonCount uint32
	/** @brief The maximum number of animations across all skeletons. */
	MaxAnimationCount uint32
	/** @brief What to do with animations shorter than their last keyframe. */
	DurationPolicy animation.DurationPolicy
}

type skeletonEntry struct {
	skeleton   *skeleton.CoreSkeleton
	animations map[string]*animation.CoreAnimation
	// Animations defined by the rig file that defines the skeleton.
	owned map[string]struct{}
}

/**
 * @brief Shared registry of skeletons and the animations authored for them.
 * Everything registered here is read only and shared by every character.
 */
type AnimationSystem struct {
	config *AnimationSystemConfig

	mu             sync.RWMutex
	skeletons      map[string]*skeletonEntry
	animationCount uint32
}

func NewAnimationSystem(config *AnimationSystemConfig) (*AnimationSystem, error) {
	if config.MaxSkeletonCount == 0 || config.MaxAnimationCount == 0 {
		err := fmt.Errorf("func NewAnimationSystem - config.MaxSkeletonCount and config.MaxAnimationCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &AnimationSystem{
		config:    config,
		skeletons: make(map[string]*skeletonEntry, config.MaxSkeletonCount),
	}, nil
}

func (as *AnimationSystem) Shutdown() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.skeletons = make(map[string]*skeletonEntry)
	as.animationCount = 0
	return nil
}

// RegisterSkeleton adds a frozen skeleton. Registering a skeleton under a
// name already in use replaces it; its animations are rebound to the new
// skeleton by bone name.
func (as *AnimationSystem) RegisterSkeleton(skel *skeleton.CoreSkeleton) error {
	return as.registerSkeleton(skel, false)
}

func (as *AnimationSystem) registerSkeleton(skel *skeleton.CoreSkeleton, dropOwned bool) error {
	if skel == nil || !skel.Frozen() {
		return fmt.Errorf("register skeleton: %w", core.ErrSkeletonNotFrozen)
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	entry := &skeletonEntry{
		skeleton:   skel,
		animations: make(map[string]*animation.CoreAnimation),
		owned:      make(map[string]struct{}),
	}
	old, ok := as.skeletons[skel.Name()]
	if !ok && uint32(len(as.skeletons)) >= as.config.MaxSkeletonCount {
		err := fmt.Errorf("skeleton '%s' exceeds the limit of %d skeletons", skel.Name(), as.config.MaxSkeletonCount)
		core.LogError(err.Error())
		return err
	}
	if ok {
		core.LogInfo("Replacing skeleton '%s'.", skel.Name())
		as.animationCount -= uint32(len(old.animations))
		for name, anim := range old.animations {
			if _, own := old.owned[name]; own && dropOwned {
				continue
			}
			rebound, err := as.rebind(old.skeleton, skel, anim)
			if err != nil {
				core.LogWarn("animation '%s' dropped from skeleton '%s': %s", name, skel.Name(), err)
				continue
			}
			entry.animations[name] = rebound
			if _, own := old.owned[name]; own {
				entry.owned[name] = struct{}{}
			}
			as.animationCount++
		}
	}
	as.skeletons[skel.Name()] = entry
	return nil
}

// rebind maps the tracks of anim from the bones of from onto the bones of to
// with the same names.
func (as *AnimationSystem) rebind(from, to *skeleton.CoreSkeleton, anim *animation.CoreAnimation) (*animation.CoreAnimation, error) {
	rebound, dropped := anim.Remap(func(boneID int) (int, bool) {
		bone, err := from.Bone(boneID)
		if err != nil {
			return 0, false
		}
		return to.BoneID(bone.Name())
	})
	if dropped > 0 {
		core.LogWarn("animation '%s' lost %d tracks for bones no longer in skeleton '%s'", anim.Name(), dropped, to.Name())
	}
	if err := rebound.Validate(as.config.DurationPolicy); err != nil {
		return nil, err
	}
	return rebound, nil
}

// RegisterAnimation validates anim with the configured duration policy and
// files it under the named skeleton, replacing an animation of the same name.
func (as *AnimationSystem) RegisterAnimation(skeletonName string, anim *animation.CoreAnimation) error {
	if anim == nil {
		return fmt.Errorf("register animation for '%s': %w", skeletonName, core.ErrUnknownAsset)
	}
	if err := anim.Validate(as.config.DurationPolicy); err != nil {
		core.LogError("animation '%s' rejected: %s", anim.Name(), err)
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	entry, ok := as.skeletons[skeletonName]
	if !ok {
		return fmt.Errorf("register animation '%s' for skeleton '%s': %w", anim.Name(), skeletonName, core.ErrUnknownAsset)
	}
	if _, exists := entry.animations[anim.Name()]; !exists {
		if as.animationCount >= as.config.MaxAnimationCount {
			err := fmt.Errorf("animation '%s' exceeds the limit of %d animations", anim.Name(), as.config.MaxAnimationCount)
			core.LogError(err.Error())
			return err
		}
		as.animationCount++
	}
	entry.animations[anim.Name()] = anim
	delete(entry.owned, anim.Name())
	return nil
}

func (as *AnimationSystem) markOwned(skeletonName, animationName string) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if entry, ok := as.skeletons[skeletonName]; ok {
		entry.owned[animationName] = struct{}{}
	}
}

func (as *AnimationSystem) Skeleton(name string) (*skeleton.CoreSkeleton, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	entry, ok := as.skeletons[name]
	if !ok {
		return nil, fmt.Errorf("skeleton '%s': %w", name, core.ErrUnknownAsset)
	}
	return entry.skeleton, nil
}

func (as *AnimationSystem) Animation(skeletonName, name string) (*animation.CoreAnimation, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	entry, ok := as.skeletons[skeletonName]
	if !ok {
		return nil, fmt.Errorf("skeleton '%s': %w", skeletonName, core.ErrUnknownAsset)
	}
	anim, ok := entry.animations[name]
	if !ok {
		return nil, fmt.Errorf("animation '%s' of skeleton '%s': %w", name, skeletonName, core.ErrUnknownAsset)
	}
	return anim, nil
}

// SkeletonNames returns the registered skeleton names, sorted.
func (as *AnimationSystem) SkeletonNames() []string {
	as.mu.RLock()
	defer as.mu.RUnlock()
	names := make([]string, 0, len(as.skeletons))
	for n := range as.skeletons {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AnimationNames returns the animations of a skeleton, sorted.
func (as *AnimationSystem) AnimationNames(skeletonName string) []string {
	as.mu.RLock()
	defer as.mu.RUnlock()
	entry, ok := as.skeletons[skeletonName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(entry.animations))
	for n := range entry.animations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (as *AnimationSystem) AnimationCount() uint32 {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.animationCount
}

/**
 * @brief Builds and registers the content of a rig file: its skeleton if it
 * defines one, then its animations against that skeleton.
 *
 * @return The name of the skeleton the rig belongs to.
 */
func (as *AnimationSystem) LoadRig(rig *loaders.RigFile) (string, error) {
	name := rig.SkeletonName()
	if rig.HasSkeleton() {
		skel, err := rig.BuildSkeleton()
		if err != nil {
			return name, fmt.Errorf("rig '%s': %w", name, err)
		}
		// Animations from other rig files survive, the ones of this file are
		// replaced by what it defines now.
		if err := as.registerSkeleton(skel, true); err != nil {
			return name, err
		}
	}
	skel, err := as.Skeleton(name)
	if err != nil {
		return name, err
	}
	anims, err := rig.BuildAnimations(skel, as.config.DurationPolicy)
	if err != nil {
		return name, fmt.Errorf("rig '%s': %w", name, err)
	}
	for _, a := range anims {
		if err := as.RegisterAnimation(name, a); err != nil {
			return name, err
		}
		if rig.HasSkeleton() {
			as.markOwned(name, a.Name())
		}
	}
	core.LogDebug("Rig '%s' loaded with %d animations.", name, len(anims))
	return name, nil
}

package systems

import (
	"context"

	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/core"
)

// SystemManagerConfig carries the sizes of every system.
type SystemManagerConfig struct {
	Workers           int
	MaxSkeletonCount  uint32
	MaxAnimationCount uint32
	MaxCharacterCount uint32
	DurationPolicy    animation.DurationPolicy
}

type SystemManager struct {
	JobSystem       *JobSystem
	AnimationSystem *AnimationSystem
	CharacterSystem *CharacterSystem
}

func NewSystemManager(config *SystemManagerConfig, events *core.EventSystem) (*SystemManager, error) {
	js, err := NewJobSystem(config.Workers, config.Workers*4)
	if err != nil {
		return nil, err
	}
	as, err := NewAnimationSystem(&AnimationSystemConfig{
		MaxSkeletonCount:  config.MaxSkeletonCount,
		MaxAnimationCount: config.MaxAnimationCount,
		DurationPolicy:    config.DurationPolicy,
	})
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	cs, err := NewCharacterSystem(&CharacterSystemConfig{
		MaxCharacterCount: config.MaxCharacterCount,
		Workers:           config.Workers,
	}, as, events)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	return &SystemManager{
		JobSystem:       js,
		AnimationSystem: as,
		CharacterSystem: cs,
	}, nil
}

// Update advances every character by delta seconds.
func (sm *SystemManager) Update(ctx context.Context, delta float32) error {
	return sm.CharacterSystem.UpdateAll(ctx, delta)
}

// Shutdown drains the job system first so queued loads finish before the
// registries are cleared.
func (sm *SystemManager) Shutdown() error {
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.CharacterSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.AnimationSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}

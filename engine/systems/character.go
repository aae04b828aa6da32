package systems

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/mixer"
	"golang.org/x/sync/errgroup"
)

/** @brief The character system configuration. */
type CharacterSystemConfig struct {
	/** @brief The maximum number of characters alive at once. */
	MaxCharacterCount uint32
	/** @brief How many characters are resolved concurrently. */
	Workers int
}

// Character is one animated instance of a registered skeleton.
type Character struct {
	ID       uuid.UUID
	Name     string
	Skeleton string
	Mixer    *mixer.Mixer
}

type CharacterSystem struct {
	config     *CharacterSystemConfig
	animations *AnimationSystem
	events     *core.EventSystem

	mu         sync.RWMutex
	characters map[uuid.UUID]*Character
	// Spawn order, so updates and listings are deterministic.
	order []uuid.UUID
}

func NewCharacterSystem(config *CharacterSystemConfig, as *AnimationSystem, events *core.EventSystem) (*CharacterSystem, error) {
	if config.MaxCharacterCount == 0 {
		err := fmt.Errorf("func NewCharacterSystem - config.MaxCharacterCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.Workers <= 0 {
		return nil, ErrNoWorkers
	}
	return &CharacterSystem{
		config:     config,
		animations: as,
		events:     events,
		characters: make(map[uuid.UUID]*Character, config.MaxCharacterCount),
	}, nil
}

func (cs *CharacterSystem) Shutdown() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.characters = make(map[uuid.UUID]*Character)
	cs.order = nil
	return nil
}

// Spawn creates a character playing nothing, in the rest pose of the named skeleton.
func (cs *CharacterSystem) Spawn(name, skeletonName string) (*Character, error) {
	skel, err := cs.animations.Skeleton(skeletonName)
	if err != nil {
		core.LogError("cannot spawn '%s': %s", name, err)
		return nil, err
	}
	m, err := mixer.New(skel, mixer.WithEventSystem(cs.events), mixer.WithName(name))
	if err != nil {
		return nil, err
	}
	c := &Character{
		ID:       uuid.New(),
		Name:     name,
		Skeleton: skeletonName,
		Mixer:    m,
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if uint32(len(cs.characters)) >= cs.config.MaxCharacterCount {
		err := fmt.Errorf("cannot spawn '%s': limit of %d characters reached", name, cs.config.MaxCharacterCount)
		core.LogError(err.Error())
		return nil, err
	}
	cs.characters[c.ID] = c
	cs.order = append(cs.order, c.ID)
	core.LogDebug("Character '%s' (%s) spawned with skeleton '%s'.", name, c.ID, skeletonName)
	return c, nil
}

func (cs *CharacterSystem) Despawn(id uuid.UUID) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.characters[id]; !ok {
		return fmt.Errorf("character %s: %w", id, core.ErrUnknownAsset)
	}
	delete(cs.characters, id)
	for i, o := range cs.order {
		if o == id {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			break
		}
	}
	return nil
}

func (cs *CharacterSystem) Character(id uuid.UUID) (*Character, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.characters[id]
	if !ok {
		return nil, fmt.Errorf("character %s: %w", id, core.ErrUnknownAsset)
	}
	return c, nil
}

// Characters returns the live characters in spawn order.
func (cs *CharacterSystem) Characters() []*Character {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]*Character, 0, len(cs.order))
	for _, id := range cs.order {
		out = append(out, cs.characters[id])
	}
	return out
}

func (cs *CharacterSystem) Count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.characters)
}

// Play activates the named animation of the character's skeleton.
func (cs *CharacterSystem) Play(id uuid.UUID, animationName string, cfg mixer.InstanceConfig) (mixer.InstanceID, error) {
	c, err := cs.Character(id)
	if err != nil {
		return 0, err
	}
	anim, err := cs.animations.Animation(c.Skeleton, animationName)
	if err != nil {
		return 0, err
	}
	return c.Mixer.Activate(anim, cfg)
}

/**
 * @brief Ticks every character by delta, resolving up to Workers characters
 * at once. Characters share skeletons and animations but each owns its
 * mixer, so no locking is needed between them. The context is checked
 * between characters; a started resolve always completes.
 */
func (cs *CharacterSystem) UpdateAll(ctx context.Context, delta float32) error {
	characters := cs.Characters()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cs.config.Workers)
	for _, c := range characters {
		if gctx.Err() != nil {
			break
		}
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.Mixer.Tick(delta); err != nil {
				return fmt.Errorf("character '%s': %w", c.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

package testbed

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/mixer"
	"golang.org/x/exp/rand"
)

const (
	crowdSize    = 16
	skeletonName = "humanoid"
	handBone     = "hand_r"
)

type TestGame struct {
	*engine.Game
}

type crowdMember struct {
	id   uuid.UUID
	wave mixer.InstanceID
}

type gameState struct {
	crowd   []crowdMember
	rng     *rand.Rand
	elapsed float64
	nextLog float64
	waving  bool
}

func NewTestGame(config *engine.ApplicationConfig) (*TestGame, error) {
	if config == nil {
		config = engine.DefaultApplicationConfig()
		config.Name = "Anima Testbed"
		config.LogLevel = "debug"
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State: &gameState{
				rng:    rand.New(rand.NewSource(42)),
				waving: true,
			},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Boot() error {
	core.LogInfo("booting testbed...")
	g.Events.Register(core.EVENT_CODE_ASSET_RELOADED, g, g.onAssetReloaded)
	return nil
}

// Initialize spawns a crowd walking with random phase offsets, half of it
// also waving.
func (g *TestGame) Initialize() error {
	st := g.state()
	chars := g.SystemManager.CharacterSystem
	for i := 0; i < crowdSize; i++ {
		c, err := chars.Spawn(fmt.Sprintf("walker-%02d", i), skeletonName)
		if err != nil {
			return err
		}
		rate := 0.8 + 0.4*st.rng.Float32()
		if _, err := chars.Play(c.ID, "walk", mixer.InstanceConfig{Weight: 1, Rate: rate, Loop: true}); err != nil {
			return err
		}
		member := crowdMember{id: c.ID}
		if i%2 == 0 {
			wave, err := chars.Play(c.ID, "wave", mixer.InstanceConfig{Weight: 0.5, Rate: 1, Loop: true})
			if err != nil {
				return err
			}
			member.wave = wave
		}
		// Desynchronise the crowd.
		c.Mixer.Update(st.rng.Float32() * 2)
		st.crowd = append(st.crowd, member)
	}
	core.LogInfo("testbed spawned %d characters", len(st.crowd))
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	st := g.state()
	st.elapsed += deltaTime

	// Every three seconds the wavers pause or resume.
	if waving := int(st.elapsed/3)%2 == 0; waving != st.waving {
		st.waving = waving
		for i, m := range st.crowd {
			if i%2 != 0 {
				continue
			}
			c, err := g.SystemManager.CharacterSystem.Character(m.id)
			if err != nil {
				return err
			}
			if waving {
				err = c.Mixer.Resume(m.wave)
			} else {
				err = c.Mixer.Pause(m.wave)
			}
			if err != nil {
				return err
			}
		}
	}

	if st.elapsed >= st.nextLog {
		st.nextLog = st.elapsed + 1
		return g.logHand()
	}
	return nil
}

func (g *TestGame) logHand() error {
	st := g.state()
	if len(st.crowd) == 0 {
		return nil
	}
	c, err := g.SystemManager.CharacterSystem.Character(st.crowd[0].id)
	if err != nil {
		return err
	}
	id, ok := c.Mixer.Skeleton().BoneID(handBone)
	if !ok {
		return nil
	}
	p := c.Mixer.Pose().Absolute[id].Translation
	core.LogInfo("%s %s at [%.3f, %.3f, %.3f]", c.Name, handBone, p.X, p.Y, p.Z)
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	g.Events.Unregister(core.EVENT_CODE_ASSET_RELOADED, g)
	return nil
}

func (g *TestGame) onAssetReloaded(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	core.LogInfo("rig '%s' reloaded from %s, new characters will use it", data.Data.C[1], data.Data.C[0])
	return false
}

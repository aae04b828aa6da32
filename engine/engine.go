package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	isRunning     atomic.Bool
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	events        *core.EventSystem
	clock         *core.Clock
	metrics       *core.Metrics
	tick          uint64
	reloadMu      sync.Mutex
	shutdownOnce  sync.Once
}

func New(g *Game) (*Engine, error) {
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = DefaultApplicationConfig()
	}
	config := g.ApplicationConfig
	if err := config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	level, _ := core.ParseLogLevel(config.LogLevel)
	core.SetLogLevel(level)
	policy, _ := animation.ParseDurationPolicy(config.DurationPolicy)

	events := core.NewEventSystem()

	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	sm, err := systems.NewSystemManager(&systems.SystemManagerConfig{
		Workers:           config.Workers,
		MaxSkeletonCount:  config.MaxSkeletons,
		MaxAnimationCount: config.MaxAnimations,
		MaxCharacterCount: config.MaxCharacters,
		DurationPolicy:    policy,
	}, events)
	if err != nil {
		core.LogError(err.Error())
		_ = am.Shutdown()
		return nil, err
	}

	e := &Engine{
		currentStage:  EngineStageBooting,
		gameInstance:  g,
		assetManager:  am,
		systemManager: sm,
		events:        events,
		clock:         core.NewClock(),
		metrics:       core.NewMetrics(),
	}
	g.SystemManager = sm
	g.Events = events

	if g.FnBoot != nil {
		if err := g.FnBoot(); err != nil {
			core.LogError("Game boot failed: %s", err)
			return nil, err
		}
	}
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) SystemManager() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) Events() *core.EventSystem {
	return e.events
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

// Tick returns the number of ticks run so far.
func (e *Engine) Tick() uint64 {
	return e.tick
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	// register some events
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)

	config := e.gameInstance.ApplicationConfig
	if config.AssetDir != "" {
		if err := e.assetManager.Initialize(config.AssetDir, config.WatchAssets); err != nil {
			return err
		}
		if err := e.loadRigs(); err != nil {
			return err
		}
		e.assetManager.OnChange(e.onAssetChanged)
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

type loadedRig struct {
	path string
	rig  *loaders.RigFile
}

/**
 * @brief Parses every indexed rig on the job system, then registers them:
 * files defining skeletons first so animation-only files can find theirs.
 */
func (e *Engine) loadRigs() error {
	infos := e.assetManager.Assets(assets.AssetTypeRigTOML, assets.AssetTypeRigYAML)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		rigs []loadedRig
		errs []error
	)
	for _, info := range infos {
		wg.Add(1)
		err := e.systemManager.JobSystem.Submit(systems.JobTask{
			Name:        info.Path,
			InputParams: info.Path,
			OnStart: func(params interface{}) (interface{}, error) {
				return e.assetManager.LoadAsset(params.(string), nil)
			},
			OnComplete: func(result interface{}) {
				res := result.(*loaders.Resource)
				mu.Lock()
				rigs = append(rigs, loadedRig{path: res.FullPath, rig: res.Data.(*loaders.RigFile)})
				mu.Unlock()
			},
			OnFailure: func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			},
			OnCompletionCallback: wg.Done,
		})
		if err != nil {
			wg.Done()
			return err
		}
	}
	wg.Wait()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sort.SliceStable(rigs, func(i, j int) bool {
		if rigs[i].rig.HasSkeleton() != rigs[j].rig.HasSkeleton() {
			return rigs[i].rig.HasSkeleton()
		}
		return rigs[i].path < rigs[j].path
	})
	for _, r := range rigs {
		if _, err := e.systemManager.AnimationSystem.LoadRig(r.rig); err != nil {
			core.LogError("failed to load rig '%s': %s", r.path, err)
			return fmt.Errorf("rig '%s': %w", r.path, err)
		}
	}
	core.LogInfo("Loaded %d rigs.", len(rigs))
	return nil
}

// onAssetChanged queues the reload of a rig modified on disk so the watcher
// goroutine never parses or registers rigs. Characters already spawned keep
// the skeleton and animations they were created with.
func (e *Engine) onAssetChanged(info assets.AssetInfo) {
	e.systemManager.JobSystem.AddWorkNonBlocking(systems.JobTask{
		Name:        "reload " + info.Path,
		InputParams: info.Path,
		OnStart: func(params interface{}) (interface{}, error) {
			return e.reloadRig(params.(string))
		},
		OnComplete: func(result interface{}) {
			ctx := core.EventContext{}
			ctx.Data.C[0] = info.Path
			ctx.Data.C[1] = result.(string)
			e.events.Fire(core.EVENT_CODE_ASSET_RELOADED, e, ctx)
		},
	})
}

// reloadRig parses and registers one rig. Reloads run one at a time, so the
// last one to run reads the newest content of the file.
func (e *Engine) reloadRig(path string) (string, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	res, err := e.assetManager.LoadAsset(path, nil)
	if err != nil {
		return "", err
	}
	name, err := e.systemManager.AnimationSystem.LoadRig(res.Data.(*loaders.RigFile))
	if err != nil {
		return name, err
	}
	core.LogInfo("Rig '%s' reloaded from '%s'.", name, path)
	return name, nil
}

/**
 * @brief Runs a single simulation tick of delta seconds: the game update,
 * then every character.
 */
func (e *Engine) Step(ctx context.Context, delta float64) error {
	frameStart := time.Now()
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}
	if err := e.systemManager.Update(ctx, float32(delta)); err != nil {
		return err
	}
	e.tick++
	e.metrics.Update(time.Since(frameStart).Seconds())
	return nil
}

/**
 * @brief Runs the fixed tick loop until the context is cancelled, the
 * application quit event fires or the configured tick count is reached.
 */
func (e *Engine) Run(ctx context.Context) error {
	config := e.gameInstance.ApplicationConfig
	step := config.TickDuration()

	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()

	ticker := time.NewTicker(time.Duration(step * float64(time.Second)))
	defer ticker.Stop()

	for e.isRunning.Load() && ctx.Err() == nil {
		select {
		case <-ctx.Done():
			e.isRunning.Store(false)
			continue
		case <-ticker.C:
		}

		if err := e.Step(ctx, step); err != nil {
			if ctx.Err() != nil {
				break
			}
			core.LogError("Tick %d failed, shutting down: %s", e.tick, err)
			e.isRunning.Store(false)
			e.clock.Stop()
			return err
		}

		if e.tick%uint64(config.TickRate) == 0 {
			e.clock.Update()
			fps, frameTime := e.metrics.Frame()
			core.LogDebug("tick %d after %.2fs: %.0f ticks/s, %.3fms per tick, %d characters",
				e.tick, e.clock.Elapsed(), fps, frameTime, e.systemManager.CharacterSystem.Count())
		}
		if config.MaxTicks > 0 && e.tick >= config.MaxTicks {
			e.isRunning.Store(false)
		}
	}
	e.clock.Stop()
	return nil
}

func (e *Engine) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		e.isRunning.Store(false)
		var errs []error
		if e.gameInstance.FnShutdown != nil {
			errs = append(errs, e.gameInstance.FnShutdown())
		}
		errs = append(errs, e.assetManager.Shutdown())
		errs = append(errs, e.systemManager.Shutdown())
		errs = append(errs, e.events.Shutdown())
		err = errors.Join(errs...)
	})
	return err
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
)

type AssetType int

const (
	AssetTypeNone AssetType = iota
	AssetTypeRigTOML
	AssetTypeRigYAML
)

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

// ChangeHandler is called from the watcher goroutine when an indexed asset
// is created or written.
type ChangeHandler func(info AssetInfo)

type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	done      chan struct{}
	stopped   chan struct{}
	fsnotify  *fsnotify.Watcher
	isClosed  bool
	isWatched bool
	onChange  []ChangeHandler
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[AssetType]Loader),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	// Register loaders
	am.registerLoader(AssetTypeRigTOML, &loaders.RigLoader{Format: loaders.FormatTOML})
	am.registerLoader(AssetTypeRigYAML, &loaders.RigLoader{Format: loaders.FormatYAML})
	return am, nil
}

// Initialize indexes every asset under assetsDir. With watch set, changes
// below the directory are reported to the OnChange handlers.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	if am.isClosed {
		return errors.New("asset manager already closed")
	}
	if err := am.watchRecursive(assetsDir, watch); err != nil {
		return err
	}
	if watch {
		am.isWatched = true
		go am.start()
	}
	core.LogInfo("Asset manager indexed %d assets under '%s' (watching: %t).", am.Count(), assetsDir, watch)
	return nil
}

// OnChange registers a handler for created or modified assets.
func (am *AssetManager) OnChange(handler ChangeHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.onChange = append(am.onChange, handler)
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// Assets returns the indexed assets of the given type, sorted by path.
func (am *AssetManager) Assets(assetTypes ...AssetType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	out := []AssetInfo{}
	for _, a := range am.assets {
		for _, t := range assetTypes {
			if a.Type == t {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Load an asset using the appropriate loader
func (am *AssetManager) LoadAsset(path string, params interface{}) (*loaders.Resource, error) {
	am.mutex.Lock()
	asset, exists := am.assets[path]
	if !exists {
		am.mutex.Unlock()
		return nil, fmt.Errorf("asset not found: %s: %w", path, core.ErrUnknownAsset)
	}
	// Load or reload asset from disk if necessary
	asset.LastLoaded = time.Now()
	am.assets[path] = asset // Update the loaded time
	loader, loaderExists := am.loaders[asset.Type]
	am.mutex.Unlock()

	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %d: %w", asset.Type, core.ErrUnknownAsset)
	}
	return loader.Load(path, params)
}

func (am *AssetManager) UnloadAsset(asset *loaders.Resource) error {
	if asset == nil {
		return nil
	}
	am.mutex.RLock()
	info, ok := am.assets[asset.FullPath]
	am.mutex.RUnlock()
	if !ok {
		return nil
	}
	if l, ok := am.loaders[info.Type]; ok {
		return l.Unload(asset)
	}
	return nil
}

// Shutdown stops the watcher goroutine and releases the watcher.
func (am *AssetManager) Shutdown() error {
	if am.isClosed {
		return nil
	}
	am.isClosed = true
	if am.isWatched {
		close(am.done)
		<-am.stopped
		return nil
	}
	return am.fsnotify.Close()
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, true); err != nil {
						core.LogError(err.Error())
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if info, ok := am.handleFileEvent(e.Name); ok {
					am.notify(info)
				}
			}
			// Can't stat a deleted directory, so just pretend that it's always a directory and
			// try to remove from the watch list...  we really have no clue if it's a directory or not...
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			if err := am.fsnotify.Close(); err != nil {
				core.LogError(err.Error())
			}
			return
		}
	}
}

func (am *AssetManager) notify(info AssetInfo) {
	am.mutex.RLock()
	handlers := append([]ChangeHandler(nil), am.onChange...)
	am.mutex.RUnlock()
	for _, h := range handlers {
		h(info)
	}
}

// watchRecursive indexes the files under the given directory and, if watch
// is set, adds every directory to the watch list.
func (am *AssetManager) watchRecursive(path string, watch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if watch {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return AssetInfo{}, false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := AssetInfo{
		Path: path,
		Type: assetType,
	}
	am.assets[path] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}

func determineAssetType(path string) AssetType {
	format, ok := loaders.FormatFromPath(path)
	if !ok {
		return AssetTypeNone
	}
	if format == loaders.FormatYAML {
		return AssetTypeRigYAML
	}
	return AssetTypeRigTOML
}

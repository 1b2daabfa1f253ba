// Package assets indexes shader and image files under a root directory and
// watches it for changes so shaders can be hot reloaded.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

// Library maps asset names, the path relative to the root with forward slashes,
// to files on disk.
type Library struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader
	// changed holds the shaders written since the last Drain.
	changed map[string]struct{}

	mutex sync.RWMutex

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewLibrary(root string) (*Library, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	l := &Library{
		root:     abs,
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[AssetType]Loader),
		changed:  make(map[string]struct{}),
		fsnotify: watcher,
		done:     make(chan struct{}),
	}
	l.registerLoader(AssetTypeShader, &ShaderLoader{})
	l.registerLoader(AssetTypeImage, &ImageLoader{})

	if err := l.watchRecursive(abs); err != nil {
		watcher.Close()
		return nil, err
	}
	// Files indexed by the initial walk are not changes.
	clear(l.changed)

	l.wg.Add(1)
	go l.start()
	core.LogInfo("asset library watching %s (%d assets)", abs, len(l.assets))
	return l, nil
}

func (l *Library) Root() string {
	return l.root
}

func (l *Library) registerLoader(assetType AssetType, loader Loader) {
	l.loaders[assetType] = loader
}

// Names returns the indexed asset names of type t in sorted order.
func (l *Library) Names(t AssetType) []string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	var names []string
	for name, asset := range l.assets {
		if asset.Type == t {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (l *Library) load(name string, t AssetType, loader Loader) (any, error) {
	l.mutex.Lock()
	asset, exists := l.assets[name]
	if exists && asset.Type == t {
		asset.LastLoaded = time.Now()
		l.assets[name] = asset
	}
	l.mutex.Unlock()
	if !exists || asset.Type != t {
		return nil, fmt.Errorf("%s %q: %w", t, name, ErrAssetNotFound)
	}
	if loader == nil {
		loader = l.loaders[t]
	}
	return loader.Load(asset.Path)
}

// Shader loads a SPIR-V blob by name, e.g. "triangle.vert.spv".
func (l *Library) Shader(name string) (*metadata.Shader, error) {
	v, err := l.load(name, AssetTypeShader, nil)
	if err != nil {
		return nil, err
	}
	return v.(*metadata.Shader), nil
}

func (l *Library) Image(name string, opts ImageOptions) (*Image, error) {
	v, err := l.load(name, AssetTypeImage, &ImageLoader{Options: opts})
	if err != nil {
		return nil, err
	}
	img := v.(*Image)
	img.Desc.Name = name
	return img, nil
}

// Drain returns the shaders created or written since the previous call.
func (l *Library) Drain() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.changed) == 0 {
		return nil
	}
	names := make([]string, 0, len(l.changed))
	for name := range l.changed {
		names = append(names, name)
	}
	slices.Sort(names)
	clear(l.changed)
	return names
}

func (l *Library) Close() error {
	l.mutex.Lock()
	if l.isClosed {
		l.mutex.Unlock()
		return nil
	}
	l.isClosed = true
	l.mutex.Unlock()

	close(l.done)
	l.wg.Wait()
	return l.fsnotify.Close()
}

func (l *Library) start() {
	defer l.wg.Done()
	for {
		select {
		case e, ok := <-l.fsnotify.Events:
			if !ok {
				return
			}
			if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := l.watchRecursive(e.Name); err != nil {
						core.LogWarn("asset library: watch %s: %s", e.Name, err.Error())
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				l.handleFileEvent(e.Name)
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				l.removeAsset(e.Name)
			}

		case err, ok := <-l.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-l.done:
			return
		}
	}
}

// watchRecursive watches every directory under path and indexes the files it
// finds. A file written between the walk and the Add is picked up by the next
// write.
func (l *Library) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return l.fsnotify.Add(walkPath)
		}
		l.handleFileEvent(walkPath)
		return nil
	})
}

func (l *Library) name(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (l *Library) handleFileEvent(path string) {
	assetType := determineAssetType(path)
	name := l.name(path)
	if assetType == AssetTypeNone || name == "" {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.assets[name] = AssetInfo{
		Path: path,
		Type: assetType,
	}
	if assetType == AssetTypeShader {
		l.changed[name] = struct{}{}
	}
}

func (l *Library) removeAsset(path string) {
	name := l.name(path)
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.assets, name)
	delete(l.changed, name)
}

package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/vertex/pkg/provider/live"
	"github.com/MrWong99/vertex/pkg/provider/studio"
)

// Provider kinds, as used in [ProvidersConfig] and [ValidProviderNames].
const (
	KindLive  = "live"
	KindChat  = "chat"
	KindImage = "image"
	KindVideo = "video"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  map[string]Factory[live.Provider]
	chat  map[string]Factory[studio.ChatProvider]
	image map[string]Factory[studio.ImageProvider]
	video map[string]Factory[studio.VideoProvider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:  make(map[string]Factory[live.Provider]),
		chat:  make(map[string]Factory[studio.ChatProvider]),
		image: make(map[string]Factory[studio.ImageProvider]),
		video: make(map[string]Factory[studio.VideoProvider]),
	}
}

// RegisterLive registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, f Factory[live.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = f
}

// RegisterChat registers a chat provider factory under name.
func (r *Registry) RegisterChat(name string, f Factory[studio.ChatProvider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = f
}

// RegisterImage registers an image provider factory under name.
func (r *Registry) RegisterImage(name string, f Factory[studio.ImageProvider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image[name] = f
}

// RegisterVideo registers a video provider factory under name.
func (r *Registry) RegisterVideo(name string, f Factory[studio.VideoProvider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video[name] = f
}

// CreateLive instantiates a live provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	return create(r, r.live, KindLive, entry)
}

// CreateChat instantiates a chat provider using the factory registered under entry.Name.
func (r *Registry) CreateChat(entry ProviderEntry) (studio.ChatProvider, error) {
	return create(r, r.chat, KindChat, entry)
}

// CreateImage instantiates an image provider using the factory registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (studio.ImageProvider, error) {
	return create(r, r.image, KindImage, entry)
}

// CreateVideo instantiates a video provider using the factory registered under entry.Name.
func (r *Registry) CreateVideo(entry ProviderEntry) (studio.VideoProvider, error) {
	return create(r, r.video, KindVideo, entry)
}

func create[T any](r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	f, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", kind, entry.Name, err)
	}
	return p, nil
}

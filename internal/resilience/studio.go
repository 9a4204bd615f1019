package resilience

import (
	"context"

	"github.com/MrWong99/vertex/pkg/provider/studio"
)

// ChatFallback implements [studio.ChatProvider] with failover.
type ChatFallback struct {
	group *FallbackGroup[studio.ChatProvider]
}

var _ studio.ChatProvider = (*ChatFallback)(nil)

// NewChatFallback creates a ChatFallback with primary as the preferred
// provider.
func NewChatFallback(name string, primary studio.ChatProvider, cfg CircuitBreakerConfig) *ChatFallback {
	return &ChatFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers another chat provider.
func (f *ChatFallback) AddFallback(name string, p studio.ChatProvider) { f.group.Add(name, p) }

// Chat sends req to the first healthy provider.
func (f *ChatFallback) Chat(ctx context.Context, req studio.ChatRequest) (*studio.ChatResponse, error) {
	return Do(f.group, func(p studio.ChatProvider) (*studio.ChatResponse, error) {
		return p.Chat(ctx, req)
	})
}

// ImageFallback implements [studio.ImageProvider] with failover.
type ImageFallback struct {
	group *FallbackGroup[studio.ImageProvider]
}

var _ studio.ImageProvider = (*ImageFallback)(nil)

// NewImageFallback creates an ImageFallback with primary as the preferred
// provider.
func NewImageFallback(name string, primary studio.ImageProvider, cfg CircuitBreakerConfig) *ImageFallback {
	return &ImageFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers another image provider.
func (f *ImageFallback) AddFallback(name string, p studio.ImageProvider) { f.group.Add(name, p) }

// GenerateImage sends req to the first healthy provider.
func (f *ImageFallback) GenerateImage(ctx context.Context, req studio.ImageRequest) (*studio.Image, error) {
	return Do(f.group, func(p studio.ImageProvider) (*studio.Image, error) {
		return p.GenerateImage(ctx, req)
	})
}

// Names returns the providers in the order they are tried.
func (f *ChatFallback) Names() []string { return f.group.Names() }

// Names returns the providers in the order they are tried.
func (f *ImageFallback) Names() []string { return f.group.Names() }

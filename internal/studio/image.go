package studio

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/vertex/internal/observe"
	"github.com/MrWong99/vertex/pkg/provider/studio"
)

// DefaultAspectRatio is used when a request names none.
const DefaultAspectRatio = "1:1"

// AspectRatios lists the accepted image aspect ratios.
var AspectRatios = []string{"1:1", "3:4", "4:3", "9:16", "16:9"}

// ImageService generates still images.
type ImageService struct {
	provider studio.ImageProvider
	opts     options
}

// NewImageService returns an ImageService backed by p.
func NewImageService(p studio.ImageProvider, opts ...Option) *ImageService {
	return &ImageService{provider: p, opts: buildOptions(opts)}
}

// Generate renders prompt at the given aspect ratio.
func (s *ImageService) Generate(ctx context.Context, prompt, aspectRatio string) (*studio.Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if aspectRatio == "" {
		aspectRatio = DefaultAspectRatio
	}
	if !slices.Contains(AspectRatios, aspectRatio) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, aspectRatio)
	}

	ctx, span := observe.StartSpan(ctx, "studio.image")
	start := time.Now()
	img, err := s.provider.GenerateImage(ctx, studio.ImageRequest{Prompt: prompt, AspectRatio: aspectRatio})
	s.opts.metrics.RecordStudio(ctx, "image", start)
	observe.EndSpan(span, err)
	if err != nil {
		s.opts.metrics.RecordProviderRequest(ctx, s.opts.providerName, "image", "error")
		s.opts.metrics.RecordProviderError(ctx, s.opts.providerName, "image")
		observe.Logger(ctx).Warn("studio: image failed", "aspect_ratio", aspectRatio, "err", err)
		return nil, fmt.Errorf("studio: generate image: %w", err)
	}
	s.opts.metrics.RecordProviderRequest(ctx, s.opts.providerName, "image", "ok")
	return img, nil
}

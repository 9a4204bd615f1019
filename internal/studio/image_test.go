package studio

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/vertex/pkg/provider/studio"
	studiomock "github.com/MrWong99/vertex/pkg/provider/studio/mock"
)

func TestImage_Generate(t *testing.T) {
	t.Parallel()
	prov := &studiomock.ImageProvider{}
	svc := NewImageService(prov)

	for _, ratio := range AspectRatios {
		img, err := svc.Generate(context.Background(), "a lighthouse at dusk", ratio)
		if err != nil {
			t.Fatalf("Generate(%s): %v", ratio, err)
		}
		if len(img.Data) == 0 {
			t.Errorf("Generate(%s): empty image", ratio)
		}
	}
	if prov.CallCount() != len(AspectRatios) {
		t.Errorf("calls = %d", prov.CallCount())
	}
	if prov.Calls[4].AspectRatio != "16:9" {
		t.Errorf("aspect = %q", prov.Calls[4].AspectRatio)
	}
}

func TestImage_DefaultAspectRatio(t *testing.T) {
	t.Parallel()
	prov := &studiomock.ImageProvider{}
	svc := NewImageService(prov)

	if _, err := svc.Generate(context.Background(), "cat", ""); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := prov.Calls[0].AspectRatio; got != DefaultAspectRatio {
		t.Errorf("aspect = %q, want %q", got, DefaultAspectRatio)
	}
}

func TestImage_Validation(t *testing.T) {
	t.Parallel()
	prov := &studiomock.ImageProvider{}
	svc := NewImageService(prov)

	tests := []struct {
		name   string
		prompt string
		ratio  string
		want   error
	}{
		{"empty prompt", "  ", "1:1", ErrEmptyPrompt},
		{"bad ratio", "cat", "21:9", ErrInvalidAspectRatio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Generate(context.Background(), tt.prompt, tt.ratio)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if prov.CallCount() != 0 {
		t.Error("provider should not be called for invalid requests")
	}
}

func TestImage_ProviderError(t *testing.T) {
	t.Parallel()
	svc := NewImageService(&studiomock.ImageProvider{Err: studio.ErrNoImage})
	_, err := svc.Generate(context.Background(), "cat", "1:1")
	if !errors.Is(err, studio.ErrNoImage) {
		t.Errorf("err = %v, want ErrNoImage", err)
	}
}

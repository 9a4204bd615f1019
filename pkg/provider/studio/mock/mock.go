// Package mock provides test doubles for the studio provider interfaces.
//
// Every mock records its calls and returns configurable results. All methods
// are safe for concurrent use.
package mock

import (
	"context"
	"strconv"
	"sync"

	"github.com/MrWong99/vertex/pkg/provider/studio"
)

// ─── Chat ─────────────────────────────────────────────────────────────────────

// ChatProvider is a mock implementation of [studio.ChatProvider].
type ChatProvider struct {
	mu sync.Mutex

	// Response is returned by Chat when Err is nil.
	Response *studio.ChatResponse

	// Err is returned by Chat when non-nil.
	Err error

	// Calls records every request in order.
	Calls []studio.ChatRequest
}

// Chat implements [studio.ChatProvider].
func (p *ChatProvider) Chat(ctx context.Context, req studio.ChatRequest) (*studio.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]studio.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Response == nil {
		return &studio.ChatResponse{Text: "ok"}, nil
	}
	r := *p.Response
	return &r, nil
}

// CallCount returns the number of Chat calls.
func (p *ChatProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// ─── Image ────────────────────────────────────────────────────────────────────

// ImageProvider is a mock implementation of [studio.ImageProvider].
type ImageProvider struct {
	mu sync.Mutex

	// Image is returned by GenerateImage when Err is nil.
	Image *studio.Image

	// Err is returned by GenerateImage when non-nil.
	Err error

	// Calls records every request in order.
	Calls []studio.ImageRequest
}

// GenerateImage implements [studio.ImageProvider].
func (p *ImageProvider) GenerateImage(_ context.Context, req studio.ImageRequest) (*studio.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Image == nil {
		return &studio.Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}, nil
	}
	img := *p.Image
	return &img, nil
}

// CallCount returns the number of GenerateImage calls.
func (p *ImageProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// ─── Video ────────────────────────────────────────────────────────────────────

// VideoProvider is a mock implementation of [studio.VideoProvider]. Each
// submitted operation finishes after DoneAfter polls.
type VideoProvider struct {
	mu sync.Mutex

	// SubmitErr is returned by SubmitVideo when non-nil.
	SubmitErr error

	// PollErr is returned by PollVideo when non-nil.
	PollErr error

	// DownloadErr is returned by DownloadVideo when non-nil.
	DownloadErr error

	// DoneAfter is the number of polls after which an operation is done.
	// Zero means the operation is done on the first poll.
	DoneAfter int

	// FailWith, when set, is reported as the error of finished operations.
	FailWith string

	// Video is returned by DownloadVideo.
	Video []byte

	// SubmitCalls records every submitted request in order.
	SubmitCalls []studio.VideoRequest

	polls     map[string]int
	downloads int
}

// SubmitVideo implements [studio.VideoProvider].
func (p *VideoProvider) SubmitVideo(_ context.Context, req studio.VideoRequest) (*studio.VideoOperation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubmitCalls = append(p.SubmitCalls, req)
	if p.SubmitErr != nil {
		return nil, p.SubmitErr
	}
	name := "operations/" + strconv.Itoa(len(p.SubmitCalls))
	return &studio.VideoOperation{Name: name}, nil
}

// PollVideo implements [studio.VideoProvider].
func (p *VideoProvider) PollVideo(_ context.Context, op *studio.VideoOperation) (*studio.VideoOperation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PollErr != nil {
		return nil, p.PollErr
	}
	if p.polls == nil {
		p.polls = make(map[string]int)
	}
	p.polls[op.Name]++
	out := &studio.VideoOperation{Name: op.Name}
	if p.polls[op.Name] > p.DoneAfter {
		out.Done = true
		if p.FailWith != "" {
			out.Error = p.FailWith
		} else {
			out.VideoURI = "https://video.test/" + op.Name
			out.MIMEType = "video/mp4"
		}
	}
	return out, nil
}

// DownloadVideo implements [studio.VideoProvider].
func (p *VideoProvider) DownloadVideo(_ context.Context, op *studio.VideoOperation) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads++
	if p.DownloadErr != nil {
		return nil, p.DownloadErr
	}
	if op == nil || op.VideoURI == "" {
		return nil, studio.ErrNoVideo
	}
	return p.Video, nil
}

// PollCount returns how often the named operation was polled.
func (p *VideoProvider) PollCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls[name]
}

// DownloadCount returns the number of DownloadVideo calls.
func (p *VideoProvider) DownloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downloads
}

// Compile-time interface assertions.
var (
	_ studio.ChatProvider  = (*ChatProvider)(nil)
	_ studio.ImageProvider = (*ImageProvider)(nil)
	_ studio.VideoProvider = (*VideoProvider)(nil)
)

// Package studio defines the provider interfaces behind the generative studio:
// multimodal chat, still image generation, and long-running video
// generation.
//
// Implementations wrap a remote model API and must be safe for concurrent
// use. None of the interfaces hold conversation state; callers pass the full
// history with every chat request.
package studio

import (
	"context"
	"errors"
)

var (
	// ErrNoImage is returned when a generation call succeeded but the
	// response carried no image data.
	ErrNoImage = errors.New("studio: response contained no image")

	// ErrNoVideo is returned when a finished video operation carries no
	// downloadable video.
	ErrNoVideo = errors.New("studio: operation produced no video")

	// ErrEmptyResponse is returned when the model answered with no text.
	ErrEmptyResponse = errors.New("studio: empty model response")
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// InlineImage is image data attached to a chat message.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// Message is one turn of a chat conversation.
type Message struct {
	Role  Role
	Text  string
	Image *InlineImage
}

// ChatRequest carries the conversation to answer. The last message is the
// user turn that drives the response.
type ChatRequest struct {
	Messages []Message

	// SystemPrompt is optional.
	SystemPrompt string
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	Text string
}

// ChatProvider answers multimodal chat turns.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ImageRequest describes a still image to generate.
type ImageRequest struct {
	Prompt string

	// AspectRatio is one of "1:1", "3:4", "4:3", "9:16", "16:9".
	AspectRatio string
}

// Image is a generated image.
type Image struct {
	MIMEType string
	Data     []byte
}

// ImageProvider generates still images from text.
type ImageProvider interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*Image, error)
}

// VideoRequest describes a video clip to generate.
type VideoRequest struct {
	Prompt      string
	AspectRatio string
	Resolution  string
}

// VideoOperation is a provider-side long-running generation. Progress is
// opaque: an operation is either running or done.
type VideoOperation struct {
	// Name identifies the operation at the provider.
	Name string

	Done bool

	// Error is set when the operation finished unsuccessfully.
	Error string

	// VideoURI locates the finished video, if the provider returned a link.
	VideoURI string

	// Video holds the finished video when the provider returned it inline.
	Video []byte

	MIMEType string
}

// VideoProvider starts, polls, and downloads video generations.
type VideoProvider interface {
	SubmitVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error)
	PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error)
	DownloadVideo(ctx context.Context, op *VideoOperation) ([]byte, error)
}

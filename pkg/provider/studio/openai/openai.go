// Package openai provides chat and image providers backed by the OpenAI API.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/vertex/pkg/provider/studio"
)

const defaultImageModel = "gpt-image-1"

// Provider implements [studio.ChatProvider] and [studio.ImageProvider] using
// the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	imageModel string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	imageModel   string
	maxRetries   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithImageModel sets the model used by GenerateImage.
func WithImageModel(m string) Option {
	return func(c *config) {
		c.imageModel = m
	}
}

// WithMaxRetries sets how often the client retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI studio Provider. model is the chat model.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{imageModel: defaultImageModel, maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, imageModel: cfg.imageModel}, nil
}

// Chat implements [studio.ChatProvider].
func (p *Provider) Chat(ctx context.Context, req studio.ChatRequest) (*studio.ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, studio.ErrEmptyResponse
	}
	return &studio.ChatResponse{Text: resp.Choices[0].Message.Content}, nil
}

// GenerateImage implements [studio.ImageProvider]. The aspect ratio is mapped
// to the closest size the image endpoint accepts.
func (p *Provider) GenerateImage(ctx context.Context, req studio.ImageRequest) (*studio.Image, error) {
	resp, err := p.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  oai.ImageModel(p.imageModel),
		Size:   oai.ImageGenerateParamsSize(imageSize(req.AspectRatio)),
		N:      oai.Int(1),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: generate image: %w", err)
	}
	for _, img := range resp.Data {
		if img.B64JSON == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("openai: decode image: %w", err)
		}
		return &studio.Image{MIMEType: "image/png", Data: data}, nil
	}
	return nil, studio.ErrNoImage
}

// imageSize maps an aspect ratio to an image endpoint size.
func imageSize(aspect string) string {
	switch aspect {
	case "16:9", "4:3":
		return "1536x1024"
	case "9:16", "3:4":
		return "1024x1536"
	default:
		return "1024x1024"
	}
}

// buildParams converts a ChatRequest into OpenAI SDK params.
func (p *Provider) buildParams(req studio.ChatRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}, nil
}

// convertMessage converts a studio.Message to an OpenAI SDK message param.
// User images are sent as base64 data URLs ahead of the text.
func convertMessage(m studio.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case studio.RoleUser:
		if m.Image == nil || len(m.Image.Data) == 0 {
			return oai.UserMessage(m.Text), nil
		}
		url := "data:" + m.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(m.Image.Data)
		parts := []oai.ChatCompletionContentPartUnionParam{
			oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: url}),
		}
		if m.Text != "" {
			parts = append(parts, oai.TextContentPart(m.Text))
		}
		return oai.UserMessage(parts), nil

	case studio.RoleModel:
		return oai.AssistantMessage(m.Text), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// Compile-time interface assertions.
var (
	_ studio.ChatProvider  = (*Provider)(nil)
	_ studio.ImageProvider = (*Provider)(nil)
)

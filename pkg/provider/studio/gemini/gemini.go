// Package gemini implements the studio providers on top of the Google Gen AI
// SDK: chat with Gemini, image generation with Gemini image models, and video
// generation with Veo.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/vertex/pkg/provider/studio"
)

const (
	defaultChatModel      = "gemini-3-pro-preview"
	defaultImageModel     = "gemini-2.5-flash-image"
	defaultVideoModel     = "veo-3.1-fast-generate-preview"
	defaultThinkingBudget = 32768
	defaultResolution     = "720p"
	defaultVideoAspect    = "16:9"
)

// Provider implements [studio.ChatProvider], [studio.ImageProvider], and
// [studio.VideoProvider].
type Provider struct {
	client         *genai.Client
	chatModel      string
	imageModel     string
	videoModel     string
	thinkingBudget int
}

type config struct {
	baseURL        string
	timeout        time.Duration
	chatModel      string
	imageModel     string
	videoModel     string
	thinkingBudget int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithChatModel sets the model used by Chat.
func WithChatModel(m string) Option {
	return func(c *config) { c.chatModel = m }
}

// WithImageModel sets the model used by GenerateImage.
func WithImageModel(m string) Option {
	return func(c *config) { c.imageModel = m }
}

// WithVideoModel sets the model used by SubmitVideo.
func WithVideoModel(m string) Option {
	return func(c *config) { c.videoModel = m }
}

// WithThinkingBudget sets the chat thinking budget in tokens. Zero or a
// negative value leaves thinking at the model default.
func WithThinkingBudget(tokens int) Option {
	return func(c *config) { c.thinkingBudget = tokens }
}

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	cfg := &config{
		chatModel:      defaultChatModel,
		imageModel:     defaultImageModel,
		videoModel:     defaultVideoModel,
		thinkingBudget: defaultThinkingBudget,
	}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	if cfg.timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{
		client:         client,
		chatModel:      cfg.chatModel,
		imageModel:     cfg.imageModel,
		videoModel:     cfg.videoModel,
		thinkingBudget: cfg.thinkingBudget,
	}, nil
}

// Chat implements [studio.ChatProvider].
func (p *Provider) Chat(ctx context.Context, req studio.ChatRequest) (*studio.ChatResponse, error) {
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}
	gc := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if p.thinkingBudget > 0 {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(p.thinkingBudget))}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.chatModel, contents, gc)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, studio.ErrEmptyResponse
	}
	return &studio.ChatResponse{Text: text}, nil
}

// GenerateImage implements [studio.ImageProvider].
func (p *Provider) GenerateImage(ctx context.Context, req studio.ImageRequest) (*studio.Image, error) {
	gc := &genai.GenerateContentConfig{}
	if req.AspectRatio != "" {
		gc.ImageConfig = &genai.ImageConfig{AspectRatio: req.AspectRatio}
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.imageModel, genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate image: %w", err)
	}
	img := firstImage(resp)
	if img == nil {
		return nil, studio.ErrNoImage
	}
	return img, nil
}

// SubmitVideo implements [studio.VideoProvider].
func (p *Provider) SubmitVideo(ctx context.Context, req studio.VideoRequest) (*studio.VideoOperation, error) {
	vc := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     req.Resolution,
		AspectRatio:    req.AspectRatio,
	}
	if vc.Resolution == "" {
		vc.Resolution = defaultResolution
	}
	if vc.AspectRatio == "" {
		vc.AspectRatio = defaultVideoAspect
	}
	op, err := p.client.Models.GenerateVideos(ctx, p.videoModel, req.Prompt, nil, vc)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate videos: %w", err)
	}
	return fromOperation(op), nil
}

// PollVideo implements [studio.VideoProvider].
func (p *Provider) PollVideo(ctx context.Context, op *studio.VideoOperation) (*studio.VideoOperation, error) {
	if op == nil || op.Name == "" {
		return nil, fmt.Errorf("gemini: poll video: operation has no name")
	}
	got, err := p.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: op.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: get videos operation: %w", err)
	}
	return fromOperation(got), nil
}

// DownloadVideo implements [studio.VideoProvider].
func (p *Provider) DownloadVideo(ctx context.Context, op *studio.VideoOperation) ([]byte, error) {
	if op == nil {
		return nil, studio.ErrNoVideo
	}
	if len(op.Video) > 0 {
		return op.Video, nil
	}
	if op.VideoURI == "" {
		return nil, studio.ErrNoVideo
	}
	data, err := p.client.Files.Download(ctx, genai.NewDownloadURIFromVideo(&genai.Video{URI: op.VideoURI}), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: download video: %w", err)
	}
	return data, nil
}

// toContents converts studio messages to SDK contents. Image parts precede
// the text part within a turn.
func toContents(msgs []studio.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role
		switch m.Role {
		case studio.RoleUser:
			role = genai.RoleUser
		case studio.RoleModel:
			role = genai.RoleModel
		default:
			return nil, fmt.Errorf("gemini: unknown message role %q", m.Role)
		}
		var parts []*genai.Part
		if m.Image != nil && len(m.Image.Data) > 0 {
			parts = append(parts, genai.NewPartFromBytes(m.Image.Data, m.Image.MIMEType))
		}
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out, nil
}

// firstImage returns the first inline image in resp, or nil.
func firstImage(resp *genai.GenerateContentResponse) *studio.Image {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return &studio.Image{MIMEType: mime, Data: part.InlineData.Data}
		}
	}
	return nil
}

// fromOperation converts an SDK video operation.
func fromOperation(op *genai.GenerateVideosOperation) *studio.VideoOperation {
	if op == nil {
		return &studio.VideoOperation{}
	}
	out := &studio.VideoOperation{Name: op.Name, Done: op.Done}
	if len(op.Error) > 0 {
		if msg, ok := op.Error["message"].(string); ok && msg != "" {
			out.Error = msg
		} else {
			out.Error = fmt.Sprint(op.Error)
		}
		return out
	}
	if op.Response == nil {
		return out
	}
	for _, gv := range op.Response.GeneratedVideos {
		if gv == nil || gv.Video == nil {
			continue
		}
		out.VideoURI = gv.Video.URI
		out.Video = gv.Video.VideoBytes
		out.MIMEType = gv.Video.MIMEType
		break
	}
	return out
}

// Compile-time interface assertions.
var (
	_ studio.ChatProvider  = (*Provider)(nil)
	_ studio.ImageProvider = (*Provider)(nil)
	_ studio.VideoProvider = (*Provider)(nil)
)

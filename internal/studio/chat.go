package studio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vertex/internal/observe"
	"github.com/MrWong99/vertex/pkg/provider/studio"
)

const (
	// DefaultGreeting opens every conversation.
	DefaultGreeting = "Welcome to Vertex Explorer Chat. How can I assist you today?"

	// DefaultImagePrompt is sent when an image is attached without text.
	DefaultImagePrompt = "Analyze this image"
)

// ChatMessage is one stored chat turn.
type ChatMessage struct {
	ID    string              `json:"id"`
	Role  studio.Role         `json:"role"`
	Text  string              `json:"text"`
	Image *studio.InlineImage `json:"-"`
	At    time.Time           `json:"at"`

	// HasImage reports whether the turn carried an attachment.
	HasImage bool `json:"has_image,omitempty"`

	// greeting marks the seeded welcome message, which is never sent to
	// the model.
	greeting bool
}

// ChatService keeps chat histories and forwards turns to a chat provider.
// Histories live in memory only.
type ChatService struct {
	provider studio.ChatProvider
	opts     options

	mu    sync.Mutex
	convs map[string]*conversation
}

// conversation is one stored history. Reset replaces the pointer, so a reply
// that arrives for a dropped conversation can be told apart.
type conversation struct {
	msgs []ChatMessage
}

// NewChatService returns a ChatService backed by p.
func NewChatService(p studio.ChatProvider, opts ...Option) *ChatService {
	return &ChatService{
		provider: p,
		opts:     buildOptions(opts),
		convs:    make(map[string]*conversation),
	}
}

// Send appends a user turn to the conversation, asks the model, and returns
// the model's reply. An image without text is sent with
// [DefaultImagePrompt]. If the provider fails, the user turn stays in the
// history and no model turn is added. If the conversation is reset while the
// model is answering, the reply is returned but not stored.
func (s *ChatService) Send(ctx context.Context, conversationID, text string, image *studio.InlineImage) (ChatMessage, error) {
	if conversationID == "" {
		return ChatMessage{}, fmt.Errorf("studio: conversation id must not be empty")
	}
	text = strings.TrimSpace(text)
	if image != nil && len(image.Data) == 0 {
		image = nil
	}
	if text == "" && image == nil {
		return ChatMessage{}, ErrEmptyPrompt
	}

	user := ChatMessage{
		ID:       uuid.NewString(),
		Role:     studio.RoleUser,
		Text:     text,
		Image:    image,
		HasImage: image != nil,
		At:       s.opts.now(),
	}

	s.mu.Lock()
	conv := s.conversation(conversationID)
	conv.msgs = append(conv.msgs, user)
	req := studio.ChatRequest{SystemPrompt: s.opts.systemPrompt}
	for _, m := range conv.msgs {
		if m.greeting {
			continue
		}
		msg := studio.Message{Role: m.Role, Text: m.Text, Image: m.Image}
		if msg.Text == "" && msg.Image != nil {
			msg.Text = DefaultImagePrompt
		}
		req.Messages = append(req.Messages, msg)
	}
	s.mu.Unlock()

	ctx = observe.WithAttrs(ctx, slog.String("conversation", conversationID))
	ctx, span := observe.StartSpan(ctx, "studio.chat")
	start := time.Now()
	resp, err := s.provider.Chat(ctx, req)
	s.opts.metrics.RecordStudio(ctx, "chat", start)
	observe.EndSpan(span, err)
	if err != nil {
		s.opts.metrics.RecordProviderRequest(ctx, s.opts.providerName, "chat", "error")
		s.opts.metrics.RecordProviderError(ctx, s.opts.providerName, "chat")
		observe.Logger(ctx).Warn("studio: chat failed", "err", err)
		return ChatMessage{}, fmt.Errorf("studio: chat: %w", err)
	}
	s.opts.metrics.RecordProviderRequest(ctx, s.opts.providerName, "chat", "ok")

	reply := ChatMessage{
		ID:   uuid.NewString(),
		Role: studio.RoleModel,
		Text: resp.Text,
		At:   s.opts.now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convs[conversationID] != conv {
		observe.Logger(ctx).Debug("studio: conversation reset during chat, reply dropped")
		return reply, nil
	}
	conv.msgs = append(conv.msgs, reply)
	return reply, nil
}

// History returns the conversation's turns in order. Unknown conversations
// return just the greeting.
func (s *ChatService) History(conversationID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history(conversationID)
	out := make([]ChatMessage, len(h))
	copy(out, h)
	return out
}

// Reset drops a conversation's history.
func (s *ChatService) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
}

// conversation returns the stored conversation, creating it for new ids.
// Must be called with s.mu held.
func (s *ChatService) conversation(id string) *conversation {
	if c, ok := s.convs[id]; ok {
		return c
	}
	c := &conversation{msgs: s.history(id)}
	s.convs[id] = c
	return c
}

// history returns the stored turns, or just the greeting for unknown ids.
// Must be called with s.mu held.
func (s *ChatService) history(id string) []ChatMessage {
	if c, ok := s.convs[id]; ok {
		return c.msgs
	}
	if s.opts.greeting == "" {
		return nil
	}
	return []ChatMessage{{
		ID:       "greeting",
		Role:     studio.RoleModel,
		Text:     s.opts.greeting,
		At:       s.opts.now(),
		greeting: true,
	}}
}

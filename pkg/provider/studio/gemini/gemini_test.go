package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/MrWong99/vertex/pkg/provider/studio"
)

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.chatModel != defaultChatModel || p.imageModel != defaultImageModel || p.videoModel != defaultVideoModel {
		t.Errorf("models = %s/%s/%s", p.chatModel, p.imageModel, p.videoModel)
	}
	if p.thinkingBudget != defaultThinkingBudget {
		t.Errorf("thinking budget = %d, want %d", p.thinkingBudget, defaultThinkingBudget)
	}
}

func TestToContents(t *testing.T) {
	msgs := []studio.Message{
		{Role: studio.RoleModel, Text: "Welcome"},
		{Role: studio.RoleUser, Text: "What is this?", Image: &studio.InlineImage{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
		{Role: studio.RoleUser},
	}
	got, err := toContents(msgs)
	if err != nil {
		t.Fatalf("toContents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (empty turn skipped)", len(got))
	}
	if got[0].Role != string(genai.RoleModel) {
		t.Errorf("role[0] = %q", got[0].Role)
	}
	parts := got[1].Parts
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0].InlineData == nil || parts[0].InlineData.MIMEType != "image/png" {
		t.Errorf("first part should be the image, got %+v", parts[0])
	}
	if parts[1].Text != "What is this?" {
		t.Errorf("second part text = %q", parts[1].Text)
	}
}

func TestToContents_UnknownRole(t *testing.T) {
	if _, err := toContents([]studio.Message{{Role: "system", Text: "x"}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestFirstImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{Data: []byte{0x89, 'P', 'N', 'G'}}},
			}},
		}},
	}
	img := firstImage(resp)
	if img == nil {
		t.Fatal("expected an image")
	}
	if img.MIMEType != "image/png" {
		t.Errorf("mime = %q, want image/png default", img.MIMEType)
	}
	if len(img.Data) != 4 {
		t.Errorf("data len = %d", len(img.Data))
	}

	if firstImage(&genai.GenerateContentResponse{}) != nil {
		t.Error("expected nil for empty response")
	}
	if firstImage(nil) != nil {
		t.Error("expected nil for nil response")
	}
}

func TestFromOperation(t *testing.T) {
	tests := []struct {
		name string
		op   *genai.GenerateVideosOperation
		want studio.VideoOperation
	}{
		{
			name: "running",
			op:   &genai.GenerateVideosOperation{Name: "operations/1"},
			want: studio.VideoOperation{Name: "operations/1"},
		},
		{
			name: "done with uri",
			op: &genai.GenerateVideosOperation{
				Name: "operations/2",
				Done: true,
				Response: &genai.GenerateVideosResponse{GeneratedVideos: []*genai.GeneratedVideo{
					{Video: &genai.Video{URI: "https://example.test/v.mp4", MIMEType: "video/mp4"}},
				}},
			},
			want: studio.VideoOperation{Name: "operations/2", Done: true, VideoURI: "https://example.test/v.mp4", MIMEType: "video/mp4"},
		},
		{
			name: "failed",
			op: &genai.GenerateVideosOperation{
				Name:  "operations/3",
				Done:  true,
				Error: map[string]any{"code": 400, "message": "prompt rejected"},
			},
			want: studio.VideoOperation{Name: "operations/3", Done: true, Error: "prompt rejected"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fromOperation(tt.op)
			if got.Name != tt.want.Name || got.Done != tt.want.Done || got.Error != tt.want.Error ||
				got.VideoURI != tt.want.VideoURI || got.MIMEType != tt.want.MIMEType {
				t.Errorf("fromOperation = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDownloadVideo_NoVideo(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.DownloadVideo(context.Background(), &studio.VideoOperation{Done: true})
	if !errors.Is(err, studio.ErrNoVideo) {
		t.Errorf("err = %v, want ErrNoVideo", err)
	}

	data, err := p.DownloadVideo(context.Background(), &studio.VideoOperation{Done: true, Video: []byte("mp4")})
	if err != nil || string(data) != "mp4" {
		t.Errorf("inline video: data=%q err=%v", data, err)
	}
}

func TestChat_RoundTrip(t *testing.T) {
	var gotBody map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"It is a cat."}]}}]}`)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL), WithChatModel("test-chat"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Chat(context.Background(), studio.ChatRequest{
		Messages: []studio.Message{{Role: studio.RoleUser, Text: "What is this?"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "It is a cat." {
		t.Errorf("text = %q", resp.Text)
	}
	if !strings.HasSuffix(gotPath, "models/test-chat:generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	gen, _ := gotBody["generationConfig"].(map[string]any)
	thinking, _ := gen["thinkingConfig"].(map[string]any)
	if thinking["thinkingBudget"] != float64(defaultThinkingBudget) {
		t.Errorf("thinkingConfig = %v", gen["thinkingConfig"])
	}
}

func TestChat_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Chat(context.Background(), studio.ChatRequest{
		Messages: []studio.Message{{Role: studio.RoleUser, Text: "hi"}},
	})
	if !errors.Is(err, studio.ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

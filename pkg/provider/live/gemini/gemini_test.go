package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vertex/pkg/audio"
	"github.com/MrWong99/vertex/pkg/provider/live"
	"github.com/MrWong99/vertex/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// nextEvent waits for the next session event.
func nextEvent(t *testing.T, sess live.Session) (live.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		return ev, ok
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return live.Event{}, false
	}
}

// ── Options & capabilities ────────────────────────────────────────────────────

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := gemini.New("key").Capabilities()
	if caps.InputSampleRate != 16000 || caps.OutputSampleRate != 24000 {
		t.Errorf("rates = %d/%d, want 16000/24000", caps.InputSampleRate, caps.OutputSampleRate)
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	keys := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret", gemini.WithBaseURL(wsURL(srv)), gemini.WithModel("custom-model"))
	sess, err := p.Connect(context.Background(), live.Config{Voice: "Zephyr", Instructions: "Speak naturally."})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if k := <-keys; k != "secret" {
		t.Errorf("api key = %q", k)
	}
	msg := <-received
	if msg.Setup.Model != "models/custom-model" {
		t.Errorf("model = %q", msg.Setup.Model)
	}
	if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", got)
	}
	if v := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Zephyr" {
		t.Errorf("voice = %q", v)
	}
	if msg.Setup.SystemInstruction == nil || msg.Setup.SystemInstruction.Parts[0].Text != "Speak naturally." {
		t.Errorf("systemInstruction = %+v", msg.Setup.SystemInstruction)
	}
	if msg.Setup.OutputAudioTranscription == nil {
		t.Error("outputAudioTranscription should be requested")
	}
	if msg.Setup.InputAudioTranscription != nil {
		t.Error("inputAudioTranscription should be off by default")
	}

	ev, ok := nextEvent(t, sess)
	if !ok || ev.Kind != live.EventOpened {
		t.Errorf("first event = %v (ok=%v), want opened", ev.Kind, ok)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if !errors.Is(err, live.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

// ── Audio & messages ──────────────────────────────────────────────────────────

func TestSendAudio_MediaChunk(t *testing.T) {
	t.Parallel()

	type realtimeMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	got := make(chan realtimeMsg, 2)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		for range 2 {
			var m realtimeMsg
			readJSON(t, conn, &m)
			got <- m
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	first := audio.EncodeChunk([]byte{1, 0}, 16000)
	second := audio.EncodeChunk([]byte{2, 0}, 16000)
	if err := sess.SendAudio(first); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := sess.SendAudio(second); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	for _, want := range []audio.WireChunk{first, second} {
		select {
		case m := <-got:
			c := m.RealtimeInput.MediaChunks[0]
			if c.MIMEType != "audio/pcm;rate=16000" || c.Data != want.Data {
				t.Errorf("chunk = %+v, want %+v", c, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for media chunk")
		}
	}
}

func TestReceive_MessageFields(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAA="}},
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AQA="}},
					},
				},
				"outputTranscription": map[string]any{"text": "Hello there"},
				"inputTranscription":  map[string]any{"text": "hi"},
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{}}) // empty, skipped
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if ev, _ := nextEvent(t, sess); ev.Kind != live.EventOpened {
		t.Fatalf("event = %v, want opened", ev.Kind)
	}

	ev, _ := nextEvent(t, sess)
	if ev.Kind != live.EventMessage {
		t.Fatalf("event = %v, want message", ev.Kind)
	}
	m := ev.Message
	if m.Transcript != "Hello there" || m.InputTranscript != "hi" {
		t.Errorf("transcripts = %q / %q", m.Transcript, m.InputTranscript)
	}
	if len(m.Audio) != 2 || m.Audio[0].Data != "AAA=" || m.Audio[1].Data != "AQA=" {
		t.Errorf("audio = %+v", m.Audio)
	}

	if ev, _ := nextEvent(t, sess); !ev.Message.Interrupted {
		t.Errorf("expected interrupted message, got %+v", ev)
	}
	if ev, _ := nextEvent(t, sess); !ev.Message.TurnComplete {
		t.Errorf("expected turnComplete message, got %+v", ev)
	}
}

func TestReceive_ServerError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 400, "message": "invalid model"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev, _ := nextEvent(t, sess)
	if ev.Kind != live.EventError || ev.Err == nil || !strings.Contains(ev.Err.Error(), "invalid model") {
		t.Errorf("event = %+v, want error mentioning invalid model", ev)
	}
}

func TestReceive_RemoteCloseEmitsClosed(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	sess, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev, ok := nextEvent(t, sess)
	if !ok || ev.Kind != live.EventClosed {
		t.Fatalf("event = %v (ok=%v), want closed", ev.Kind, ok)
	}
	if _, ok := nextEvent(t, sess); ok {
		t.Error("events channel should be closed after EventClosed")
	}
}

func TestReceive_AbnormalCloseEmitsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		conn.Close(websocket.StatusInternalError, "boom")
	})

	sess, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev, _ := nextEvent(t, sess)
	if ev.Kind != live.EventError || !errors.Is(ev.Err, live.ErrTransport) {
		t.Errorf("event = %+v, want transport error", ev)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio(audio.WireChunk{}); !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}

	// Local close: channel closes without an error event.
	for ev := range sess.Events() {
		if ev.Kind == live.EventError || ev.Kind == live.EventClosed {
			t.Errorf("unexpected %v event after local Close", ev.Kind)
		}
	}
}

func TestSendText_ClientContent(t *testing.T) {
	t.Parallel()

	type clientMsg struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}
	got := make(chan clientMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		var m clientMsg
		readJSON(t, conn, &m)
		got <- m
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.SendText("what time is it"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	m := <-got
	if len(m.ClientContent.Turns) != 1 || m.ClientContent.Turns[0].Role != "user" ||
		m.ClientContent.Turns[0].Parts[0].Text != "what time is it" || !m.ClientContent.TurnComplete {
		t.Errorf("clientContent = %+v", m.ClientContent)
	}
}

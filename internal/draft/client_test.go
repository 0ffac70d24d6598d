package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/store"
)

func TestChatCompletion(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"  Hola! En que puedo ayudarte?  "}}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "test-model", "")
	text, err := c.ChatCompletion(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hola"},
	})
	if err != nil {
		t.Fatalf("chat completion: %v", err)
	}
	if text != "Hola! En que puedo ayudarte?" {
		t.Fatalf("unexpected text: %q", text)
	}
	if gotBody["model"] != "test-model" {
		t.Fatalf("expected model in body, got %v", gotBody["model"])
	}
	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected 2 messages in body")
	}
}

func TestChatCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom"}`)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "m", "")
	_, err := c.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected status in error, got: %v", err)
	}
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "m", "")
	if _, err := c.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestStatelessGeneratorWindowRoles(t *testing.T) {
	var gotBody struct {
		Messages []Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	g := NewStatelessGenerator(NewClient("k", srv.URL, "m", ""), "system prompt here")
	_, err := g.Draft(context.Background(), Request{
		ChatJID:  "111@s.whatsapp.net",
		Incoming: "price?",
		Window: []store.Message{
			{Content: "hi", IsFromMe: false},
			{Content: "hello there", IsFromMe: true},
			{Content: "price?", IsFromMe: false},
		},
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}

	if len(gotBody.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "system prompt here" {
		t.Fatalf("expected system prompt first")
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	for i, want := range wantRoles {
		if gotBody.Messages[i].Role != want {
			t.Fatalf("message %d: expected role %s, got %s", i, want, gotBody.Messages[i].Role)
		}
	}
	if gotBody.Messages[3].Content != "price?" {
		t.Fatalf("expected incoming message last")
	}
}

func TestStatelessGeneratorEmptyWindowFallsBack(t *testing.T) {
	var gotBody struct {
		Messages []Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	g := NewStatelessGenerator(NewClient("k", srv.URL, "m", ""), "")
	if _, err := g.Draft(context.Background(), Request{ChatJID: "x", Incoming: "hola"}); err != nil {
		t.Fatalf("draft: %v", err)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[1].Content != "hola" {
		t.Fatalf("expected incoming appended on empty window")
	}
}

type sessionState struct {
	creates int
	appends int
	polls   int
}

func newSessionServer(t *testing.T, state *sessionState) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OpenAI-Beta") != "assistants=v2" {
			t.Errorf("missing assistants header on %s", r.URL.Path)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			state.creates++
			fmt.Fprint(w, `{"id":"thread_1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/messages":
			state.appends++
			fmt.Fprint(w, `{"id":"msg_1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
			fmt.Fprint(w, `{"id":"run_1","status":"queued"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1":
			state.polls++
			status := "in_progress"
			if state.polls >= 2 {
				status = "completed"
			}
			fmt.Fprintf(w, `{"id":"run_1","status":"%s"}`, status)
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/messages":
			fmt.Fprint(w, `{"data":[{"role":"assistant","content":[{"type":"text","text":{"value":"Claro, con gusto."}}]}]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSessionGeneratorCreatesSessionOnce(t *testing.T) {
	state := &sessionState{}
	srv := newSessionServer(t, state)
	defer srv.Close()

	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	c := NewClient("k", srv.URL, "m", "asst_1")
	c.pollInterval = 5 * time.Millisecond
	g := NewSessionGenerator(c, st)

	for i := 0; i < 2; i++ {
		text, err := g.Draft(context.Background(), Request{ChatJID: "111@s.whatsapp.net", Incoming: "hola"})
		if err != nil {
			t.Fatalf("draft %d: %v", i, err)
		}
		if text != "Claro, con gusto." {
			t.Fatalf("unexpected draft: %q", text)
		}
	}

	if state.creates != 1 {
		t.Fatalf("expected one thread create, got %d", state.creates)
	}
	if state.appends != 2 {
		t.Fatalf("expected two appended messages, got %d", state.appends)
	}

	id, ok, err := st.DraftSessionID("111@s.whatsapp.net")
	if err != nil || !ok || id != "thread_1" {
		t.Fatalf("expected cached handle thread_1, got %s ok=%v err=%v", id, ok, err)
	}
}

func TestContinueSessionRunFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			fmt.Fprint(w, `{"id":"msg_1"}`)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/runs"):
			fmt.Fprint(w, `{"id":"run_1","status":"failed"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "m", "asst_1")
	_, err := c.ContinueSession(context.Background(), "thread_1", "hola")
	if err == nil {
		t.Fatal("expected run failure")
	}
	if !strings.Contains(err.Error(), "failed") {
		t.Fatalf("expected failure status in error, got: %v", err)
	}
}

func TestContinueSessionRequiresAssistant(t *testing.T) {
	c := NewClient("k", "http://127.0.0.1:0", "m", "")
	if _, err := c.ContinueSession(context.Background(), "thread_1", "hola"); err == nil {
		t.Fatal("expected error without assistant id")
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("expected whisper model, got %s", r.FormValue("model"))
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		fmt.Fprint(w, `{"text":"hola buenas"}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "note.ogg")
	if err := os.WriteFile(path, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	c := NewClient("k", srv.URL, "m", "")
	text, err := c.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hola buenas" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/ollama"
)

// fakeGenerateServer translates by upper-casing. Prompts containing the
// word "boom" fail with HTTP 500.
func fakeGenerateServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if strings.Contains(body.Prompt, "boom") {
			http.Error(w, `{"error":"kaput"}`, http.StatusInternalServerError)
			return
		}

		// The source text is the last line of the prompt.
		lines := strings.Split(strings.TrimSpace(body.Prompt), "\n")
		text := strings.ToUpper(lines[len(lines)-1])

		fl := w.(http.Flusher)
		for _, tok := range strings.SplitAfter(text, " ") {
			fmt.Fprintf(w, "{\"response\":%q,\"done\":false}\n", tok)
			fl.Flush()
		}
		fmt.Fprint(w, "{\"response\":\"\",\"done\":true}\n")
	}))
}

func remoteFor(srv *httptest.Server) *Remote {
	return NewRemote(ollama.New(srv.URL), 0, nil)
}

func TestRemote_SingleStreamsAndCompletes(t *testing.T) {
	srv := fakeGenerateServer(t)
	defer srv.Close()
	p := remoteFor(srv)

	ch, err := p.Generate(context.Background(), Request{
		Model: "m", Texts: []string{"hello world"}, Source: "en", Target: "de",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var chunks []string
	var terminal event.Event
	for e := range ch {
		switch e.Kind {
		case event.Chunk:
			if e.Index != 0 {
				t.Errorf("chunk index = %d, want 0", e.Index)
			}
			chunks = append(chunks, e.Text)
		default:
			terminal = e
		}
	}

	if terminal.Kind != event.Complete || terminal.Text != "HELLO WORLD" {
		t.Errorf("terminal = %+v", terminal)
	}
	if strings.Join(chunks, "") != "HELLO WORLD" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestRemote_BlockIsolatesFragmentFailure(t *testing.T) {
	srv := fakeGenerateServer(t)
	defer srv.Close()
	p := remoteFor(srv)

	ch, err := p.Generate(context.Background(), Request{
		Model: "m", Texts: []string{"one", "boom", "three"}, Source: "en", Target: "de",
		Block: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	done := map[int]string{}
	var blockErrors, blockCompletes int
	for e := range ch {
		switch e.Kind {
		case event.BlockChunk:
			done[e.Index] = e.Text
		case event.BlockError:
			blockErrors++
		case event.BlockComplete:
			blockCompletes++
		}
	}

	if blockErrors != 1 {
		t.Errorf("block-error events = %d, want 1", blockErrors)
	}
	if blockCompletes != 0 {
		t.Error("block-complete emitted despite fragment failure")
	}
	if done[0] != "ONE" || done[2] != "THREE" {
		t.Errorf("sibling results = %v, want fragments 0 and 2 translated", done)
	}
	if _, ok := done[1]; ok {
		t.Error("failed fragment produced a block-chunk")
	}
}

func TestRemote_BlockAllSucceed(t *testing.T) {
	srv := fakeGenerateServer(t)
	defer srv.Close()
	p := remoteFor(srv)

	ch, err := p.Generate(context.Background(), Request{
		Model: "m", Texts: []string{"a", "b"}, Source: "en", Target: "de", Block: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var terminal event.Event
	done := map[int]string{}
	for e := range ch {
		if e.Kind == event.BlockChunk {
			done[e.Index] = e.Text
		}
		if e.Kind.Terminal() {
			terminal = e
		}
	}
	if terminal.Kind != event.BlockComplete {
		t.Errorf("terminal = %+v", terminal)
	}
	if len(done) != 2 {
		t.Errorf("results = %v, want 2 fragments", done)
	}
}

func TestRemote_CancellationStopsEvents(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		fmt.Fprint(w, "{\"response\":\"first\",\"done\":false}\n")
		fl.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := remoteFor(srv)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Generate(ctx, Request{Model: "m", Texts: []string{"t"}, Target: "de"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var got []event.Event
	for e := range ch {
		got = append(got, e)
		cancel()
	}

	// The first chunk arrived, then cancellation: no terminal event follows.
	if len(got) != 1 || got[0].Kind != event.Chunk {
		t.Errorf("events = %v, want exactly one chunk before cancellation", got)
	}
}

func TestBuildPrompt_DelimiterInstruction(t *testing.T) {
	p := BuildPrompt("a␞b", "en", "fr", "␞")
	if !strings.Contains(p, "␞") || !strings.Contains(p, "separator") {
		t.Errorf("prompt missing delimiter instruction:\n%s", p)
	}

	plain := BuildPrompt("a", "", "fr", "")
	if strings.Contains(plain, "separator") {
		t.Errorf("plain prompt mentions separators:\n%s", plain)
	}
	if !strings.Contains(plain, "to fr") {
		t.Errorf("prompt missing target language:\n%s", plain)
	}
}

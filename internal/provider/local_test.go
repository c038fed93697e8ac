package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/models"
	"github.com/okhotin/lingod/internal/worker"
)

// scriptedPipeline replays a fixed message sequence for every generate.
type scriptedPipeline struct {
	script []worker.Message
	err    error
	last   worker.Request
}

func (p *scriptedPipeline) Generate(_ context.Context, req worker.Request, onMessage func(worker.Message)) error {
	p.last = req
	if p.err != nil {
		return p.err
	}
	for _, m := range p.script {
		onMessage(m)
	}
	return nil
}

func (p *scriptedPipeline) Alive() bool  { return true }
func (p *scriptedPipeline) Close() error { return nil }

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, name string) (models.Model, error) {
	if name == "missing" {
		return models.Model{}, fmt.Errorf("%w: %s", models.ErrModelUnavailable, name)
	}
	return models.Model{Name: name, Path: "/models/" + name}, nil
}

func localWith(pipe *scriptedPipeline) *Local {
	mgr := worker.NewManager(staticResolver{}, func(_ context.Context, _ models.Model, _ func(event.Event)) (worker.Pipeline, error) {
		return pipe, nil
	}, nil)
	return NewLocal(mgr, nil)
}

func drain(t *testing.T, ch <-chan event.Event) []event.Event {
	t.Helper()
	var got []event.Event
	for e := range ch {
		got = append(got, e)
	}
	return got
}

func TestLocal_RelaysWorkerMessages(t *testing.T) {
	pipe := &scriptedPipeline{script: []worker.Message{
		{Status: "update", Data: "Bon"},
		{Status: "update", Data: "jour"},
		{Status: "complete", Data: "Bonjour"},
	}}
	p := localWith(pipe)

	ch, err := p.Generate(context.Background(), Request{
		Model: "m1", Texts: []string{"Hello"}, Source: "en", Target: "fr",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got := drain(t, ch)
	if len(got) != 3 {
		t.Fatalf("events = %v, want 3", got)
	}
	if got[0].Kind != event.Chunk || got[0].Text != "Bon" {
		t.Errorf("first event = %+v", got[0])
	}
	if last := got[len(got)-1]; last.Kind != event.Complete || last.Text != "Bonjour" {
		t.Errorf("terminal = %+v", last)
	}
	if pipe.last.Text != "Hello" || pipe.last.Block {
		t.Errorf("worker request = %+v", pipe.last)
	}
}

func TestLocal_BlockPayload(t *testing.T) {
	pipe := &scriptedPipeline{script: []worker.Message{
		{Status: "block-chunk", Index: 0, Data: "a"},
		{Status: "block-chunk", Index: 1, Data: "b"},
		{Status: "block-complete"},
	}}
	p := localWith(pipe)

	ch, err := p.Generate(context.Background(), Request{
		Model: "m1", Texts: []string{"x", "y"}, Source: "en", Target: "de",
		Delimiter: "␞", Block: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := drain(t, ch)

	if last := got[len(got)-1]; last.Kind != event.BlockComplete {
		t.Errorf("terminal = %+v", last)
	}
	if !pipe.last.Block || pipe.last.Delimiter != "␞" || len(pipe.last.Texts) != 2 {
		t.Errorf("worker request = %+v, want block transport framing", pipe.last)
	}
}

func TestLocal_CombinedPayloadCarriesDelimiter(t *testing.T) {
	pipe := &scriptedPipeline{script: []worker.Message{
		{Status: "chunk", Index: 0, Data: "a␞b"},
		{Status: "complete", Data: "a␞b"},
	}}
	p := localWith(pipe)

	ch, err := p.Generate(context.Background(), Request{
		Model: "m1", Texts: []string{"x␞y"}, Source: "en", Target: "de",
		Delimiter: "␞",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	drain(t, ch)

	if pipe.last.Block {
		t.Errorf("worker request = %+v, want non-block framing", pipe.last)
	}
	if pipe.last.Delimiter != "␞" {
		t.Errorf("worker request delimiter = %q, want it forwarded for combined prompts", pipe.last.Delimiter)
	}
	if pipe.last.Text != "x␞y" {
		t.Errorf("worker request text = %q", pipe.last.Text)
	}
}

func TestLocal_ModelUnavailable(t *testing.T) {
	p := localWith(&scriptedPipeline{})

	ch, err := p.Generate(context.Background(), Request{Model: "missing", Texts: []string{"t"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := drain(t, ch)
	if len(got) != 1 || got[0].Kind != event.Error {
		t.Fatalf("events = %v, want single error", got)
	}
	if !strings.Contains(got[0].Message, "model unavailable") {
		t.Errorf("message = %q", got[0].Message)
	}
}

func TestLocal_WorkerCrashSurfacesError(t *testing.T) {
	pipe := &scriptedPipeline{err: errors.New("worker: process exited unexpectedly")}
	p := localWith(pipe)

	ch, err := p.Generate(context.Background(), Request{Model: "m1", Texts: []string{"t"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := drain(t, ch)
	if len(got) != 1 || got[0].Kind != event.Error {
		t.Fatalf("events = %v, want single error event", got)
	}
}

// Package api exposes the translation daemon over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okhotin/lingod/internal/chunk"
	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/storage"
	"github.com/okhotin/lingod/internal/translator"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Translator dispatches translation requests.
type Translator interface {
	Translate(ctx context.Context, req translator.Request) (*translator.Job, error)
}

// ModelLister enumerates the models available to the active provider.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// HistoryReader serves recorded requests.
type HistoryReader interface {
	ListRequests(ctx context.Context, limit int) ([]storage.Request, error)
	GetRequest(ctx context.Context, id string) (storage.Request, error)
}

// Deps holds the handler's dependencies. History may be nil, which
// disables the request history endpoints. A non-empty Token puts the /v1
// routes behind bearer auth; /health stays open either way.
type Deps struct {
	Translator Translator
	Models     ModelLister
	History    HistoryReader
	Token      string
}

// NewHandler returns the daemon's REST handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Group(func(g chi.Router) {
		if deps.Token != "" {
			g.Use(BearerAuth(deps.Token))
		}
		g.Get("/v1/models", handleModels(deps.Models))
		g.Post("/v1/translate", handleTranslate(deps.Translator))
		g.Get("/v1/requests", handleListRequests(deps.History))
		g.Get("/v1/requests/{id}", handleGetRequest(deps.History))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleModels(models ModelLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := models.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		if names == nil {
			names = []string{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"models": names})
	}
}

// translateRequest is the JSON body of POST /v1/translate.
type translateRequest struct {
	Fragments []string `json:"fragments"`
	Source    string   `json:"source,omitempty"`
	Target    string   `json:"target"`
	Mode      string   `json:"mode,omitempty"`
	Model     string   `json:"model"`
	Delimiter string   `json:"delimiter,omitempty"`
	Stream    bool     `json:"stream,omitempty"`
}

// wireEvent is one NDJSON line of a streamed translation response.
type wireEvent struct {
	Kind     string  `json:"kind"`
	Resource string  `json:"resource,omitempty"`
	Percent  float64 `json:"percent,omitempty"`
	Index    int     `json:"index"`
	Text     string  `json:"text,omitempty"`
	Message  string  `json:"message,omitempty"`
}

func toWire(e event.Event) wireEvent {
	return wireEvent{
		Kind:     e.Kind.String(),
		Resource: e.Resource,
		Percent:  e.Percent,
		Index:    e.Index,
		Text:     e.Text,
		Message:  e.Message,
	}
}

// translateResult is the JSON body of a non-streaming translation
// response.
type translateResult struct {
	RequestID string        `json:"request_id"`
	Status    string        `json:"status"`
	Text      string        `json:"text,omitempty"`
	Fragments []fragmentDoc `json:"fragments,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type fragmentDoc struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func handleTranslate(tr Translator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Mode == "" {
			req.Mode = string(translator.ModeSimple)
		}

		job, err := tr.Translate(r.Context(), translator.Request{
			Fragments: req.Fragments,
			Source:    req.Source,
			Target:    req.Target,
			Mode:      translator.Mode(req.Mode),
			Model:     req.Model,
			Delimiter: req.Delimiter,
		})
		if err != nil {
			if errors.Is(err, translator.ErrBadRequest) || errors.Is(err, chunk.ErrEmptyInput) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			} else {
				httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			}
			return
		}

		if req.Stream {
			streamEvents(w, job)
		} else {
			collectResult(w, job)
		}
	}
}

// streamEvents writes the job's events as NDJSON, one line per event. The
// first line carries the request id so the client can correlate history
// lookups.
func streamEvents(w http.ResponseWriter, job *translator.Job) {
	// The coordinator publishes until the request settles; keep draining
	// after a failed write so an abandoned client cannot back it up and
	// strand the publishing goroutine.
	defer func() {
		for range job.Events {
		}
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	enc := json.NewEncoder(w)
	enc.Encode(map[string]string{"request_id": job.ID})
	flusher.Flush()

	for e := range job.Events {
		// A write error means the client went away; the request context
		// is cancelled with it, which winds the job down.
		if err := enc.Encode(toWire(e)); err != nil {
			return
		}
		flusher.Flush()
	}
}

// collectResult drains the job and responds with a single result
// document. Fragment results are reported for block mode; simple and
// contextual requests carry the full text.
func collectResult(w http.ResponseWriter, job *translator.Job) {
	partial := make(map[int]string)
	var terminal *event.Event
	for e := range job.Events {
		if e.Kind == event.BlockChunk {
			partial[e.Index] = e.Text
		}
		if e.Kind.Terminal() {
			terminal = &e
		}
	}
	if terminal == nil {
		// Cancelled before settling; the client is already gone.
		return
	}

	res := translateResult{RequestID: job.ID}
	switch terminal.Kind {
	case event.Complete:
		res.Status = "complete"
		res.Text = terminal.Text
	case event.BlockComplete:
		res.Status = "complete"
	case event.Error, event.BlockError:
		res.Status = "error"
		res.Error = terminal.Message
	}
	for idx, text := range partial {
		res.Fragments = append(res.Fragments, fragmentDoc{Index: idx, Text: text})
	}
	sort.Slice(res.Fragments, func(i, j int) bool { return res.Fragments[i].Index < res.Fragments[j].Index })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// requestDoc is the JSON shape of a recorded request.
type requestDoc struct {
	ID        string             `json:"id"`
	CreatedAt string             `json:"created_at"`
	Mode      string             `json:"mode"`
	Model     string             `json:"model"`
	Source    string             `json:"source,omitempty"`
	Target    string             `json:"target"`
	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
	Fragments []requestFragments `json:"fragments,omitempty"`
}

type requestFragments struct {
	Index      int    `json:"index"`
	SourceText string `json:"source_text"`
	Translated string `json:"translated_text"`
}

func toRequestDoc(r storage.Request) requestDoc {
	doc := requestDoc{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		Mode:      r.Mode,
		Model:     r.Model,
		Source:    r.SourceLang,
		Target:    r.TargetLang,
		Status:    r.Status,
		Error:     r.Error,
	}
	for _, f := range r.Fragments {
		doc.Fragments = append(doc.Fragments, requestFragments{
			Index: f.Index, SourceText: f.SourceText, Translated: f.Translated,
		})
	}
	return doc
}

func handleListRequests(history HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "history disabled")
			return
		}

		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = min(n, 100)
		}

		requests, err := history.ListRequests(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing requests: %v", err)
			return
		}

		docs := make([]requestDoc, len(requests))
		for i, req := range requests {
			docs[i] = toRequestDoc(req)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"requests": docs})
	}
}

func handleGetRequest(history HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "history disabled")
			return
		}

		id := chi.URLParam(r, "id")
		req, err := history.GetRequest(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "no request %s", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading request: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toRequestDoc(req))
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"stepstream/sse"
	"stepstream/stream"
	"stepstream/tracing"
)

// maxBodyBytes bounds request bodies on /invoke.
const maxBodyBytes = 1 << 20

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Translator *stream.Translator
	Traces     *tracing.Store
	Origins    *AllowedOrigins
	Log        zerolog.Logger
	Version    string

	// Environment maps each environment variable the engine depends on to
	// whether it is set. Values are never exposed.
	Environment map[string]bool
}

// RegisterRoutes registers the public routes on mux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	if deps.Origins == nil {
		deps.Origins = AllowAll()
	}
	h := &handler{deps: deps, log: deps.Log}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeJSONError(w, http.StatusNotFound, "Not found")
			return
		}
		h.root(w, r)
	})
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/invoke", h.invoke)
	mux.HandleFunc("/ws", h.ws)
	mux.HandleFunc("/traces", h.listTraces)
	mux.HandleFunc("/traces/", func(w http.ResponseWriter, r *http.Request) {
		h.getTrace(w, r, strings.TrimPrefix(r.URL.Path, "/traces/"))
	})
}

type handler struct {
	deps *Deps
	log  zerolog.Logger
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"message":         "stepstream is running",
		"agent_available": h.deps.Translator.Available(),
		"version":         h.deps.Version,
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	keys := make([]string, 0, len(h.deps.Environment))
	for k := range h.deps.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make(map[string]string, len(keys))
	for _, k := range keys {
		if h.deps.Environment[k] {
			env[k] = "set"
		} else {
			env[k] = "missing"
		}
	}

	body := map[string]any{
		"status":                "healthy",
		"agent_available":       h.deps.Translator.Available(),
		"environment_variables": env,
		"go_version":            runtime.Version(),
		"version":               h.deps.Version,
	}
	if err := h.deps.Translator.InitError(); err != nil {
		body["agent_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// invoke streams the fragments of one execution as the response body.
func (h *handler) invoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.deps.Translator.Available() {
		msg := stream.UnavailableMessage
		if initErr := h.deps.Translator.InitError(); initErr != nil {
			msg = initErr.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "Agent is not available",
			"message": msg,
		})
		return
	}

	content, err := readContent(w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(content) == "" {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	sw.Start()

	ctx := stream.WithTransport(r.Context(), "http")
	for frag, err := range h.deps.Translator.Execute(ctx, content) {
		if err != nil {
			if errors.Is(err, stream.ErrEngineFailed) {
				sw.WriteError(err.Error())
			}
			return
		}
		if werr := sw.WriteFragment(frag); werr != nil {
			h.log.Debug().Err(werr).Msg("client went away")
			return
		}
	}
}

func (h *handler) listTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.deps.Traces == nil {
		writeJSON(w, http.StatusOK, map[string]any{"traces": []any{}})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list := h.deps.Traces.List(limit)
	summaries := make([]map[string]any, len(list))
	for i, t := range list {
		snap := t.Snapshot()
		summaries[i] = map[string]any{
			"trace_id":    snap.TraceID,
			"transport":   snap.Transport,
			"start_time":  snap.StartTime,
			"duration_ms": snap.DurationMs,
			"span_count":  len(snap.Spans),
			"status":      snap.Output["status"],
			"error":       snap.Error,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": summaries})
}

func (h *handler) getTrace(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var t *tracing.Trace
	if h.deps.Traces != nil && id != "" {
		t = h.deps.Traces.Get(id)
	}
	if t == nil {
		writeJSONError(w, http.StatusNotFound, "Trace not found")
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

// readContent extracts the user input from a JSON body ({"content"}) or a
// form field named content.
func readContent(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return body.Content, nil
	}
	return r.FormValue("content"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

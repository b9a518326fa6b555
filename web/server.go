// ABOUTME: HTTP surface over the canvas: node CRUD, connections, generation, and cancellation.
// ABOUTME: JSON in, JSON out; the dispatcher owns all generation state transitions.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/2389-research/loom/dispatch"
	"github.com/2389-research/loom/graph"
	"github.com/2389-research/loom/provider"
)

// Server exposes the canvas over HTTP.
type Server struct {
	graph      *graph.Graph
	catalog    *graph.Catalog
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
	router     chi.Router
}

// NewServer builds the server and its routes.
func NewServer(g *graph.Graph, catalog *graph.Catalog, d *dispatch.Dispatcher, logger zerolog.Logger) *Server {
	s := &Server{graph: g, catalog: catalog, dispatcher: d, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)

	r.Route("/nodes", func(r chi.Router) {
		r.Post("/", s.handleCreateNode)
		r.Get("/", s.handleListNodes)
		r.Get("/{id}", s.handleGetNode)
		r.Patch("/{id}", s.handleUpdateNode)
		r.Delete("/{id}", s.handleDeleteNode)

		r.Post("/{id}/connections", s.handleConnect)
		r.Delete("/{id}/connections/{parentID}", s.handleDisconnect)

		r.Get("/{id}/models", s.handleModels)
		r.Post("/{id}/generate", s.handleGenerate)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Get("/{id}/progress", s.handleProgress)
	})

	s.router = r
	return s
}

// ServeHTTP implements the http.Handler interface, delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLog logs each request with method, path, status, and duration.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createNodeRequest is the JSON body for node creation.
type createNodeRequest struct {
	Type           string `json:"type"`
	Prompt         string `json:"prompt"`
	ModelID        string `json:"model_id"`
	AspectRatio    string `json:"aspect_ratio"`
	Resolution     string `json:"resolution"`
	VideoDuration  int    `json:"video_duration"`
	VideoMode      string `json:"video_mode"`
	VariationCount int    `json:"variation_count"`
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var body createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	n := &graph.Node{
		Type:           graph.NodeType(body.Type),
		Prompt:         body.Prompt,
		ModelID:        body.ModelID,
		AspectRatio:    body.AspectRatio,
		Resolution:     body.Resolution,
		VideoDuration:  body.VideoDuration,
		VideoMode:      body.VideoMode,
		VariationCount: body.VariationCount,
	}
	id, err := s.graph.AddNode(n)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.graph.Node(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.graph.Nodes()
	if nodes == nil {
		nodes = []*graph.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.graph.Node(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// updateNodeRequest is a sparse settings update; absent fields stay as-is.
type updateNodeRequest struct {
	Prompt         *string            `json:"prompt"`
	ModelID        *string            `json:"model_id"`
	AspectRatio    *string            `json:"aspect_ratio"`
	Resolution     *string            `json:"resolution"`
	VideoDuration  *int               `json:"video_duration"`
	VideoMode      *string            `json:"video_mode"`
	VariationCount *int               `json:"variation_count"`
	FrameInputs    *graph.FrameInputs `json:"frame_inputs"`
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Generation fields are owned by the dispatcher while a job runs.
	if s.dispatcher.Active(id) {
		writeError(w, http.StatusConflict, "node has an active job")
		return
	}

	var body updateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u := graph.Update{
		Prompt:         body.Prompt,
		ModelID:        body.ModelID,
		AspectRatio:    body.AspectRatio,
		Resolution:     body.Resolution,
		VideoDuration:  body.VideoDuration,
		VideoMode:      body.VideoMode,
		VariationCount: body.VariationCount,
	}
	if body.FrameInputs != nil {
		u.FrameInputs = *body.FrameInputs
	}

	n, err := s.graph.Apply(id, u)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.dispatcher.Active(id) {
		writeError(w, http.StatusConflict, "node has an active job")
		return
	}
	if err := s.graph.Remove(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectRequest struct {
	ParentID string `json:"parent_id"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body connectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ParentID == "" {
		writeError(w, http.StatusBadRequest, "parent_id is required")
		return
	}

	err := s.graph.Connect(body.ParentID, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, graph.ErrCycle):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, graph.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	err := s.graph.Disconnect(chi.URLParam(r, "parentID"), chi.URLParam(r, "id"))
	if errors.Is(err, graph.ErrNodeNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// modelsResponse reports the resolved mode and the models able to serve it.
type modelsResponse struct {
	Mode     string                  `json:"mode"`
	Selected string                  `json:"selected"`
	Changed  bool                    `json:"selection_changed"`
	Models   []graph.ModelDescriptor `json:"models"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.graph.Node(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	parents, err := s.graph.SuccessParents(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	mode, err := graph.ResolveMode(n, parents)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	filtered := s.catalog.FilterForMode(graph.TargetKind(n.Type), mode)
	selected, changed := graph.SelectModel(n.ModelID, filtered)
	if filtered == nil {
		filtered = []graph.ModelDescriptor{}
	}
	writeJSON(w, http.StatusOK, modelsResponse{
		Mode:     string(mode),
		Selected: selected,
		Changed:  changed,
		Models:   filtered,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.dispatcher.Generate(r.Context(), id)

	var verr *provider.ValidationError
	switch {
	case err == nil:
		n, nerr := s.graph.Node(id)
		if nerr != nil {
			writeError(w, http.StatusInternalServerError, nerr.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, n)
	case errors.Is(err, dispatch.ErrNodeBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, graph.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr), errors.Is(err, dispatch.ErrNoCapableModel):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.graph.Node(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.dispatcher.Cancel(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.graph.Node(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": n.Status,
		"active": s.dispatcher.Active(id),
		"events": s.dispatcher.Progress(id),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

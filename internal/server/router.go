// internal/server/router.go
//
// JSON API over a configuration manager.
//
/*
Routes
------
  GET    /health                 liveness, no auth
  GET    /metrics                Prometheus, no auth
  GET    /api/config             whole effective configuration
  POST   /api/config             deep-merge the body, save
  POST   /api/config/reload      re-read the file
  POST   /api/config/validate    validate the body, or the current state
  GET    /api/config/{key}       one value, 404 when missing
  POST   /api/config/{key}       {"value": …}, save
  DELETE /api/config/{key}       delete, save, 404 when missing
  GET    /api/history?limit=N    recorded revisions, when history is on

Notes
-----
  • Mutating routes answer 403 in read-only mode.
  • A mutation whose observers fail is still committed and saved; the
    response carries the observer error next to "status".
  • Request bodies are decoded with UseNumber so integers stay integers.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nya-foundation/nekoconf/internal/history"
	"github.com/nya-foundation/nekoconf/internal/manager"
	"github.com/nya-foundation/nekoconf/internal/middleware"
	"github.com/nya-foundation/nekoconf/internal/observer"
	"github.com/nya-foundation/nekoconf/internal/tree"
)

// maxBody caps request bodies.
const maxBody = 4 << 20

// HistoryLister is the read side of a revision log.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Revision, error)
}

// Options configures the API surface.
type Options struct {
	ReadOnly    bool
	APIKey      string
	CORSOrigins []string
	History     HistoryLister
	Logger      *zap.SugaredLogger
}

// Server serves one Manager.
type Server struct {
	m    *manager.Manager
	opts Options
	log  *zap.SugaredLogger
}

// New binds the API to m.
func New(m *manager.Manager, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.S()
	}
	return &Server{m: m, opts: opts, log: log}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(s.log))
	r.Use(middleware.Security)

	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader, "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKey(s.opts.APIKey))

		r.Get("/config", s.getAll)
		r.Get("/config/{key}", s.getKey)
		r.Post("/config/validate", s.validate)
		r.Get("/history", s.listHistory)

		r.Group(func(r chi.Router) {
			r.Use(s.writable)
			r.Post("/config", s.update)
			r.Post("/config/reload", s.reload)
			r.Post("/config/{key}", s.setKey)
			r.Delete("/config/{key}", s.deleteKey)
		})
	})
	return r
}

/*──────────────────────────── handlers ────────────────────────────────────*/

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) getAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.m.All())
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.m.Has(key) {
		writeError(w, http.StatusNotFound, fmt.Errorf("key %q not found", key))
		return
	}
	writeJSON(w, http.StatusOK, s.m.Get(key, nil))
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.m.Update(r.Context(), tree.NormalizeMap(body))
	s.committed(w, err)
}

func (s *Server) setKey(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, ok := body["value"]
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New(`body must carry "value"`))
		return
	}

	err := s.m.Set(r.Context(), chi.URLParam(r, "key"), tree.Normalize(v))
	s.committed(w, err)
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	found, err := s.m.Delete(r.Context(), key)
	if err == nil && !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("key %q not found", key))
		return
	}
	s.committed(w, err)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	snap, err := s.m.Reload(r.Context())
	var de *observer.DispatchError
	if err != nil && !errors.As(err, &de) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decode(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	errs := s.m.Validate()
	if body != nil {
		var err error
		errs, err = s.m.ValidateData(tree.NormalizeMap(body))
		if errors.Is(err, manager.ErrNoSchema) {
			errs = nil
		}
	}
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(errs) == 0, "errors": errs})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, errors.New("history is not enabled"))
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", q))
			return
		}
		limit = n
	}
	revs, err := s.opts.History.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if revs == nil {
		revs = []history.Revision{}
	}
	writeJSON(w, http.StatusOK, revs)
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func (s *Server) writable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.ReadOnly {
			writeError(w, http.StatusForbidden, errors.New("server is read-only"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// committed finishes a mutation request: save, then report.
func (s *Server) committed(w http.ResponseWriter, err error) {
	var de *observer.DispatchError
	if err != nil && !errors.As(err, &de) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if serr := s.m.Save(); serr != nil {
		writeError(w, http.StatusInternalServerError, serr)
		return
	}

	resp := map[string]any{"status": "success"}
	if de != nil {
		resp["observer_error"] = de.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.UseNumber()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

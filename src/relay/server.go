// Package relay is the HTTP endpoint that forwards captured images to the
// analyzer and returns its text.
package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"snapsight/src/analyzer"
	"snapsight/src/imagedata"
)

const (
	AnalyzePath = "/analyze-image"

	msgNoImage      = "No image provided"
	msgInvalidImage = "Invalid image data"
	msgInvalidBody  = "Invalid request body"
	msgTooLarge     = "Request entity too large"
	msgAnalyzeError = "An error occurred while analyzing the image"
)

// AnalyzeRequest is the body of POST /analyze-image. Image is bare base64.
type AnalyzeRequest struct {
	Image string `json:"image"`
}

type AnalyzeResponse struct {
	Analysis string `json:"analysis"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Options struct {
	Analyzer analyzer.Analyzer
	Logger   *zap.Logger
	// MaxBodyBytes caps the request body; zero means no limit.
	MaxBodyBytes int64
	// CORSOrigins defaults to every origin.
	CORSOrigins []string
	// Registry receives the relay metrics; nil uses a private registry.
	Registry *prometheus.Registry
}

type server struct {
	analyzer analyzer.Analyzer
	logger   *zap.Logger
	maxBody  int64
	metrics  *metrics
}

// NewHandler builds the relay router.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Analyzer == nil {
		return nil, errors.New("relay: Analyzer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	s := &server{
		analyzer: opts.Analyzer,
		logger:   logger.With(zap.String("component", "relay")),
		maxBody:  opts.MaxBodyBytes,
		metrics:  m,
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Post(AnalyzePath, s.analyze)
	return r, nil
}

func (s *server) analyze(w http.ResponseWriter, r *http.Request) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge, msgTooLarge, err)
			return
		}
		s.fail(w, http.StatusBadRequest, msgInvalidBody, err)
		return
	}
	if req.Image == "" {
		s.fail(w, http.StatusBadRequest, msgNoImage, nil)
		return
	}

	image, err := imagedata.DecodePayload(req.Image)
	if err != nil {
		s.fail(w, http.StatusBadRequest, msgInvalidImage, err)
		return
	}

	start := time.Now()
	text, err := s.analyzer.Analyze(r.Context(), image)
	s.metrics.analyzeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, msgAnalyzeError, err)
		return
	}

	s.metrics.imageBytes.Observe(float64(len(image)))
	writeJSON(w, http.StatusOK, AnalyzeResponse{Analysis: text})
}

func (s *server) fail(w http.ResponseWriter, status int, msg string, err error) {
	fields := []zap.Field{zap.Int("status", status), zap.String("reason", msg)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("analyze failed", fields...)
	} else {
		s.logger.Warn("analyze rejected", fields...)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.observe(r.Method, route, ww.Status())
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package scalars

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc reports the current state of a run for the /status endpoint
type StatusFunc func() any

// RecordsFunc returns the scalars recorded so far
type RecordsFunc func() []Record

// HandlerOption configures NewHandler
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	model   string
	records RecordsFunc
}

// WithPlots serves /plots/{type} built from records
func WithPlots(model string, records RecordsFunc) HandlerOption {
	return func(c *handlerConfig) {
		c.model = model
		c.records = records
	}
}

// NewHandler serves the metrics in gatherer plus a health and a status endpoint.
// status may be nil.
func NewHandler(gatherer prometheus.Gatherer, status StatusFunc, opts ...HandlerOption) http.Handler {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		var body any = struct{}{}
		if status != nil {
			body = status()
		}
		writeJSON(w, body)
	})
	if cfg.records != nil {
		r.Get("/plots/{type}", func(w http.ResponseWriter, r *http.Request) {
			pt, err := ParsePlotType(chi.URLParam(r, "type"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			plot, err := BuildPlot(pt, cfg.model, cfg.records())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, plot)
		})
	}
	return r
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

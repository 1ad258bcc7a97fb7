package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/aqiforecast/internal/advisory"
	"github.com/lox/aqiforecast/internal/forecast"
	"github.com/lox/aqiforecast/internal/store"
)

// staleAfter is how old the latest observation may be before /health reports
// the service as degraded.
const staleAfter = 3 * time.Hour

type Server struct {
	store      *store.Store
	registry   *forecast.Registry
	forecaster *forecast.Forecaster
	advisor    *advisory.Advisor
	port       string
	loc        *time.Location
	tmpl       *template.Template
	now        func() time.Time
}

func NewServer(store *store.Store, registry *forecast.Registry, port string) *Server {
	return &Server{
		store:      store,
		registry:   registry,
		forecaster: forecast.NewForecaster(registry),
		advisor:    advisory.New(""),
		port:       port,
		loc:        store.Location(),
		tmpl:       newTemplates(),
		now:        time.Now,
	}
}

// SetAdvisor replaces the default static advisor.
func (s *Server) SetAdvisor(a *advisory.Advisor) {
	s.advisor = a
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/current", s.handleAPICurrent)
	mux.HandleFunc("/api/forecast", s.handleAPIForecast)
	mux.HandleFunc("/api/history", s.handleAPIHistory)
	mux.HandleFunc("/api/accuracy", s.handleAPIAccuracy)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/solaretp/internal/estimate"
	"github.com/lox/solaretp/internal/metrics"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/store"
)

// Estimator is implemented by *estimate.Service.
type Estimator interface {
	RadiationAndETP(ctx context.Context, req estimate.Request) (*models.Estimate, error)
}

// AuditLog is implemented by *store.Store.
type AuditLog interface {
	SourceHealth(window time.Duration) ([]store.SourceHealth, error)
}

type Server struct {
	estimates Estimator
	radiation estimate.RadiationEstimator
	audit     AuditLog
	addr      string
}

func NewServer(estimates Estimator, radiation estimate.RadiationEstimator, addr string) *Server {
	return &Server{estimates: estimates, radiation: radiation, addr: addr}
}

// SetAuditLog adds fetch health to /health.
func (s *Server) SetAuditLog(a AuditLog) {
	s.audit = a
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(instrument)
	router.HandleFunc("/api/estimate", s.handleEstimate).Methods(http.MethodGet)
	router.HandleFunc("/api/radiation", s.handleRadiation).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	return router
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on %s", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

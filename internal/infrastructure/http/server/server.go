package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	fiscalhandler "3tcapital/ms_facturacion_afip/internal/adapters/http/fiscal"
	healthhandler "3tcapital/ms_facturacion_afip/internal/adapters/http/health"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/http/middleware"
)

// Server wires the HTTP surface: routing, middleware and graceful shutdown.
type Server struct {
	log             *slog.Logger
	httpServer      *http.Server
	jwtAuth         *middleware.JWTAuthenticator
	shutdownTimeout time.Duration
}

// Options carries the handlers and settings the server needs.
type Options struct {
	Config config.AppConfig
	Logger *slog.Logger
	Fiscal *fiscalhandler.Handler
	Health *healthhandler.Handler
}

// New builds the router and the underlying http.Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Fiscal == nil {
		return nil, errors.New("fiscal handler is required")
	}
	if opts.Health == nil {
		return nil, errors.New("health handler is required")
	}

	s := &Server{log: opts.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(middleware.RequestTimeout(opts.Config.HTTP))

	if opts.Config.Auth.Enabled {
		auth, err := middleware.NewJWTAuthenticator(opts.Config.Auth, opts.Logger)
		if err != nil {
			return nil, err
		}
		s.jwtAuth = auth
		r.Use(auth.Middleware)
	}

	r.Get("/health", opts.Health.Status)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/comprobantes", opts.Fiscal.IssueInvoice)
		r.Get("/comprobantes/{id}", opts.Fiscal.GetDocument)
		r.Get("/ordenes/{orderId}/comprobante", opts.Fiscal.GetDocumentByOrder)
		r.Get("/errores", opts.Fiscal.ListErrors)
		r.Post("/notas-credito", opts.Fiscal.IssueCreditNote)
		r.Post("/afip/estado", opts.Fiscal.CheckConnection)
	})

	s.httpServer = &http.Server{
		Addr:         opts.Config.HTTP.Address(),
		Handler:      r,
		ReadTimeout:  opts.Config.HTTP.ReadTimeout,
		WriteTimeout: opts.Config.HTTP.WriteTimeout,
		IdleTimeout:  opts.Config.HTTP.IdleTimeout,
	}
	s.shutdownTimeout = opts.Config.HTTP.ShutdownTimeout
	return s, nil
}

// Run starts the server and blocks until the context is cancelled or the
// listener fails. Cancellation triggers a graceful shutdown bounded by the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("graceful shutdown failed", "error", err)
			return err
		}
		s.log.Info("HTTP server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s.jwtAuth != nil {
		s.jwtAuth.Close()
	}
}

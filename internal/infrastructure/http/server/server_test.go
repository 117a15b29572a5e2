package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	fiscalhandler "3tcapital/ms_facturacion_afip/internal/adapters/http/fiscal"
	healthhandler "3tcapital/ms_facturacion_afip/internal/adapters/http/health"
	appfiscal "3tcapital/ms_facturacion_afip/internal/application/fiscal"
	apphealth "3tcapital/ms_facturacion_afip/internal/application/health"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/testutil"
)

func testOptions() Options {
	log := testutil.NewNullLogger()
	return Options{
		Config: config.AppConfig{
			App: config.AppSettings{Name: "test", Version: "0.0.0", Environment: "test"},
		},
		Logger: log,
		Fiscal: fiscalhandler.NewHandler(&appfiscal.Service{}, log),
		Health: healthhandler.NewHandler(apphealth.NewService(apphealth.Metadata{Service: "test"})),
	}
}

func TestNew_RequiresLogger(t *testing.T) {
	opts := testOptions()
	opts.Logger = nil

	if _, err := New(opts); err == nil {
		t.Error("expected error when logger is missing")
	}
}

func TestNew_RequiresHandlers(t *testing.T) {
	opts := testOptions()
	opts.Fiscal = nil

	if _, err := New(opts); err == nil {
		t.Error("expected error when fiscal handler is missing")
	}
}

func TestServer_HealthRoute(t *testing.T) {
	srv, err := New(testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", w.Code)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	srv, err := New(testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

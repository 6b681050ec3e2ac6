package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouteLabel(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			got = RouteLabel(req)
		})
	})
	r.Get("/api/users/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/users/01HX", nil))
	if got != "/api/users/{id}" {
		t.Fatalf("RouteLabel=%q, want /api/users/{id}", got)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	if got != "unmatched" {
		t.Fatalf("RouteLabel=%q, want unmatched", got)
	}
}

func TestInstrumentCapturesStatus(t *testing.T) {
	Init()
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestInstrumentSeesRoutePatternOfWrappedRouter(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/roles/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	var got string
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.ServeHTTP(w, req)
		got = RouteLabel(req)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roles/01HX", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rec.Code)
	}
	if got != "/api/roles/{id}" {
		t.Fatalf("RouteLabel=%q, want /api/roles/{id}", got)
	}
}

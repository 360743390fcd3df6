package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicdesk/internal/config"
	"github.com/ehr/clinicdesk/internal/platform/auth"
)

// fakeHospital serves the catalog endpoints the reference cache loads.
func fakeHospital(t *testing.T) *httptest.Server {
	t.Helper()
	bodies := map[string]string{
		"/doctors":        `{"data":[{"id":"doc-1","userId":"user-1","firstName":"Ada","lastName":"Obi"}]}`,
		"/lab-test-types": `[{"id":"lt-1","name":"CBC"}]`,
		"/medications":    `[{"id":"med-1","name":"Amoxicillin"}]`,
		"/procedures":     `[]`,
		"/consumables":    `[]`,
		"/inventory":      `[]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(apiURL string) *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		APIBaseURL:           apiURL,
		APITimeout:           5 * time.Second,
		ReferenceLoadTimeout: 5 * time.Second,
		DraftStore:           config.DraftStoreMemory,
		DraftTTL:             24 * time.Hour,
		DraftDebounce:        time.Second,
		CORSOrigins:          []string{"*"},
		RateLimitRPS:         100,
		RateLimitBurst:       100,
		RequestTimeout:       10 * time.Second,
		BillingQueue:         "pharmacy-cashier",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	s, err := newServer(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(func() { _ = s.storage.close(context.Background()) })
	return s
}

func serve(s *server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig(fakeHospital(t).URL))

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", `"status":"ok"`},
		{"/health/db", `"status":"healthy"`},
		{"/metrics", "go_goroutines"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("expected body to contain %q, got %s", tt.contains, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("expected a request id header")
			}
		})
	}
}

func TestServer_ReferenceInDevMode(t *testing.T) {
	s := newTestServer(t, testConfig(fakeHospital(t).URL))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/reference", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap struct {
		Catalog struct {
			Doctors []struct {
				ID string `json:"id"`
			} `json:"doctors"`
			Medications []struct {
				Name string `json:"name"`
			} `json:"medications"`
		} `json:"catalog"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Catalog.Doctors) != 1 || snap.Catalog.Doctors[0].ID != "doc-1" {
		t.Errorf("unexpected doctors: %+v", snap.Catalog.Doctors)
	}
	if len(snap.Catalog.Medications) != 1 || snap.Catalog.Medications[0].Name != "Amoxicillin" {
		t.Errorf("unexpected medications: %+v", snap.Catalog.Medications)
	}
}

func TestServer_ReferenceUnavailable(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"down"}`, http.StatusBadGateway)
	}))
	defer broken.Close()

	s := newTestServer(t, testConfig(broken.URL))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/reference", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "retryable") {
		t.Errorf("expected retryable flag, got %s", rec.Body.String())
	}
}

func TestServer_JWTMode(t *testing.T) {
	cfg := testConfig(fakeHospital(t).URL)
	cfg.Env = "production"
	cfg.AuthSigningKey = "test-signing-key"
	s := newTestServer(t, cfg)

	t.Run("health is public", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("api requires a token", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/reference", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("physician token is accepted", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Roles: []string{"physician"},
		})
		signed, err := token.SignedString([]byte(cfg.AuthSigningKey))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reference", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := serve(s, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("billing role is forbidden", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2"},
			Roles:            []string{"billing"},
		})
		signed, _ := token.SignedString([]byte(cfg.AuthSigningKey))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reference", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := serve(s, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}

func TestOpenDraftStorage_DefaultsToMemory(t *testing.T) {
	st, err := openDraftStorage(context.Background(), testConfig("http://unused"), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.repo == nil {
		t.Fatal("expected a repository")
	}
	if len(st.checks) != 0 {
		t.Errorf("memory store should register no health checks, got %d", len(st.checks))
	}
	if err := st.close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestDraftsPurgeCommand_RegistersSubcommands(t *testing.T) {
	cmd := draftsCmd()
	if sub, _, err := cmd.Find([]string{"purge"}); err != nil || sub.Use != "purge" {
		t.Errorf("expected purge subcommand, got %v (%v)", sub, err)
	}
	mig := migrateCmd()
	for _, name := range []string{"up", "status"} {
		sub, _, err := mig.Find([]string{name})
		if err != nil || sub.Use != name {
			t.Errorf("expected migrate %s subcommand", name)
		}
		if sub.Flags().Lookup("dir") == nil {
			t.Errorf("expected --dir flag on migrate %s", name)
		}
	}
}

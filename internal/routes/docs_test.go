package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/internal/config"
)

func TestRegisterDocsRoutesServesDocsPageAndSpec(t *testing.T) {
	app := fiber.New()
	cfg := &config.Config{AppEnv: "development", EnableDocs: true}

	if err := registerDocsRoutes(app, cfg); err != nil {
		t.Fatalf("registerDocsRoutes: %v", err)
	}

	pageResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/docs", nil))
	if err != nil {
		t.Fatalf("app.Test docs page: %v", err)
	}
	defer pageResp.Body.Close()

	if pageResp.StatusCode != http.StatusOK {
		t.Fatalf("expected docs page status 200, got %d", pageResp.StatusCode)
	}
	if got := pageResp.Header.Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'none'") {
		t.Fatalf("expected restrictive CSP, got %q", got)
	}
	page, _ := io.ReadAll(pageResp.Body)
	if !strings.Contains(string(page), "/chat/{id}/messages") {
		t.Fatalf("expected the openapi document to be embedded in the page")
	}

	specResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/docs/openapi.yaml", nil))
	if err != nil {
		t.Fatalf("app.Test openapi document: %v", err)
	}
	defer specResp.Body.Close()

	if specResp.StatusCode != http.StatusOK {
		t.Fatalf("expected openapi document status 200, got %d", specResp.StatusCode)
	}
	if got := specResp.Header.Get(fiber.HeaderContentType); !strings.Contains(got, "application/yaml") {
		t.Fatalf("expected yaml content type, got %q", got)
	}
}

func TestRegisterDocsRoutesSkipsWhenDisabled(t *testing.T) {
	for _, cfg := range []*config.Config{
		{AppEnv: "production", EnableDocs: true},
		{AppEnv: "development", EnableDocs: false},
	} {
		app := fiber.New()
		if err := registerDocsRoutes(app, cfg); err != nil {
			t.Fatalf("registerDocsRoutes: %v", err)
		}

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/docs", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 for %+v, got %d", cfg, resp.StatusCode)
		}
	}
}

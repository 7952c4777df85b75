package routes

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/internal/config"
)

//go:embed openapi.yaml
var openAPISpec []byte

const docsIndexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{ .Title }}</title>
  <style>
    body { margin: 0; font-family: system-ui, sans-serif; background: #f7f7f5; color: #1d232a; }
    main { max-width: 1040px; margin: 0 auto; padding: 40px 20px 56px; }
    h1 { margin: 0 0 8px; }
    p { color: #55606b; line-height: 1.6; }
    a.button { display: inline-block; margin: 12px 12px 24px 0; padding: 9px 14px; border-radius: 6px;
      background: #2d5b8a; color: #fff; text-decoration: none; font-weight: 600; }
    pre { margin: 0; padding: 18px; overflow: auto; border-radius: 8px; background: #0f172a; color: #e2e8f0;
      font-size: 0.9rem; line-height: 1.5; }
  </style>
</head>
<body>
  <main>
    <h1>{{ .Title }}</h1>
    <p>Development-only view of the OpenAPI description. The raw document is served at <code>/docs/openapi.yaml</code>. Loaded {{ .LoadedAt }}.</p>
    <a class="button" href="/docs/openapi.yaml">Open raw YAML</a>
    <a class="button" href="/docs/openapi.yaml" download="openapi.yaml">Download</a>
    <pre>{{ .Spec }}</pre>
  </main>
</body>
</html>
`

type docsPageData struct {
	Title    string
	LoadedAt string
	Spec     string
}

// registerDocsRoutes exposes the API description in development only.
func registerDocsRoutes(app fiber.Router, cfg *config.Config) error {
	if !cfg.DocsEnabled() {
		return nil
	}
	if len(openAPISpec) == 0 {
		return fmt.Errorf("load openapi document: empty file")
	}

	indexTemplate, err := template.New("docs-index").Parse(docsIndexHTML)
	if err != nil {
		return fmt.Errorf("parse docs template: %w", err)
	}

	pageData := docsPageData{
		Title:    "Campus Market API",
		LoadedAt: time.Now().UTC().Format(time.RFC3339),
		Spec:     string(openAPISpec),
	}

	indexHandler := func(c *fiber.Ctx) error {
		applyDocsBaseHeaders(c, fiber.MIMETextHTMLCharsetUTF8)
		c.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'")

		var body bytes.Buffer
		if err := indexTemplate.Execute(&body, pageData); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to render api docs")
		}
		return c.Status(fiber.StatusOK).Send(body.Bytes())
	}

	app.Get("/docs", indexHandler)
	app.Get("/docs/", indexHandler)
	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		applyDocsBaseHeaders(c, "application/yaml; charset=utf-8")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		c.Set(fiber.HeaderContentDisposition, `inline; filename="openapi.yaml"`)
		return c.Status(fiber.StatusOK).Send(openAPISpec)
	})

	return nil
}

func applyDocsBaseHeaders(c *fiber.Ctx, contentType string) {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "no-store, max-age=0")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	c.Set(fiber.HeaderXFrameOptions, "DENY")
	c.Set("Referrer-Policy", "no-referrer")
	c.Set("X-Robots-Tag", "noindex, nofollow")
}

package http

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templateFiles embed.FS

// views renders the server-side pages. Every page template includes the shared layout.
type views struct {
	templates *template.Template
	logger    *slog.Logger
}

func newViews(logger *slog.Logger) (*views, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "never"
			}
			return t.UTC().Format(time.RFC1123)
		},
	}).ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &views{templates: tmpl, logger: logger}, nil
}

// render executes the page into a buffer first so a template error never leaves a
// half-written page behind.
func (v *views) render(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := v.templates.ExecuteTemplate(&buf, page, data); err != nil {
		v.logger.Error("render page failed", "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (v *views) renderError(w http.ResponseWriter, status int, message string) {
	v.render(w, status, "error.html", map[string]any{
		"Status":  status,
		"Title":   http.StatusText(status),
		"Message": message,
	})
}

// Package handlers is the JSON and websocket surface over the session
// manager.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
	"github.com/yanghanggit/ai-rpg-sub004/internal/session"
	"github.com/yanghanggit/ai-rpg-sub004/internal/storage"
)

// unsafeHrefRe matches href/src attributes with dangerous URL schemes in goldmark output.
var unsafeHrefRe = regexp.MustCompile(`(?i)(href|src)="(?:javascript|vbscript|data):[^"]*"`)

const maxBodyBytes = 1 << 20

// Catalog lists the blueprints sessions can be created from.
type Catalog interface {
	Names() []string
}

// App holds the handlers' dependencies.
type App struct {
	sessions  *session.Manager
	catalog   Catalog
	snapshots *storage.SnapshotStore
	log       *logrus.Entry
	md        goldmark.Markdown
	upgrader  websocket.Upgrader
}

// NewApp wires the handlers. snapshots may be nil when nothing is persisted.
func NewApp(sessions *session.Manager, catalog Catalog, snapshots *storage.SnapshotStore, log *logrus.Entry) *App {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &App{
		sessions:  sessions,
		catalog:   catalog,
		snapshots: snapshots,
		log:       log.WithField("component", "http"),
		md: goldmark.New(
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the API mux wrapped in the request logger.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", a.CreateSession)
	mux.HandleFunc("POST /api/sessions/{id}/start", a.StartSession)
	mux.HandleFunc("POST /api/sessions/{id}/input", a.SubmitInput)
	mux.HandleFunc("GET /api/sessions/{id}/messages", a.Messages)
	mux.HandleFunc("POST /api/sessions/{id}/exit", a.ExitSession)
	mux.HandleFunc("POST /api/sessions/{id}/logout", a.Logout)
	mux.HandleFunc("GET /api/sessions/{id}/ws", a.Stream)
	mux.HandleFunc("GET /api/blueprints", a.Blueprints)
	mux.HandleFunc("GET /api/saves", a.Saves)
	return LogRequest(a.log, mux)
}

type sessionView struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Game      string `json:"game"`
	Blueprint string `json:"blueprint"`
	State     string `json:"state"`
	Tick      uint64 `json:"tick"`
}

func viewOf(s *session.Session) sessionView {
	return sessionView{
		ID:        s.ID(),
		User:      s.User(),
		Game:      s.Game(),
		Blueprint: s.Blueprint(),
		State:     s.State(),
		Tick:      s.Tick(),
	}
}

// CreateSession handles POST /api/sessions
func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User      string `json:"user"`
		Game      string `json:"game"`
		Blueprint string `json:"blueprint"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s, err := a.sessions.Create(r.Context(), body.User, body.Game, body.Blueprint)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

// StartSession handles POST /api/sessions/{id}/start
func (a *App) StartSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.sessions.Start(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeSession(w, id)
}

// SubmitInput handles POST /api/sessions/{id}/input
func (a *App) SubmitInput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.sessions.SubmitInput(r.PathValue("id"), body.Command); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// Messages handles GET /api/sessions/{id}/messages?since=N
func (a *App) Messages(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	msgs, err := a.sessions.FetchMessages(r.PathValue("id"), since)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": a.render(msgs)})
}

// ExitSession handles POST /api/sessions/{id}/exit
func (a *App) ExitSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.sessions.Exit(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeSession(w, id)
}

// Logout handles POST /api/sessions/{id}/logout
func (a *App) Logout(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.sessions.Logout(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeSession(w, id)
}

// Blueprints handles GET /api/blueprints
func (a *App) Blueprints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"blueprints": a.catalog.Names()})
}

func (a *App) writeSession(w http.ResponseWriter, id string) {
	s, err := a.sessions.Get(id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// render fills the html field of each message from its markdown text.
func (a *App) render(msgs []models.ClientMessage) []models.ClientMessage {
	out := make([]models.ClientMessage, len(msgs))
	for i, m := range msgs {
		m.HTML = a.renderMarkdown(m.Message)
		out[i] = m
	}
	return out
}

func (a *App) renderMarkdown(s string) string {
	var buf bytes.Buffer
	if err := a.md.Convert([]byte(s), &buf); err != nil {
		return template.HTMLEscapeString(s)
	}
	return unsafeHrefRe.ReplaceAllString(buf.String(), `$1="#"`)
}

func parseSince(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errs.Wrap(errs.ErrValidation, "http", err, "since=%q", raw)
	}
	return since, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body", "kind": "validation"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var kindStatus = []struct {
	kind   error
	status int
}{
	{errs.ErrValidation, http.StatusBadRequest},
	{errs.ErrNotFound, http.StatusNotFound},
	{errs.ErrConflict, http.StatusConflict},
	{errs.ErrInvalidState, http.StatusConflict},
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	for _, k := range kindStatus {
		if errors.Is(err, k.kind) {
			status = k.status
			break
		}
	}
	if status == http.StatusInternalServerError {
		a.log.WithError(err).WithField("kind", errs.KindOf(err)).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": errs.KindOf(err)})
}

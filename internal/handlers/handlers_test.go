package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ai/aitest"
	"github.com/yanghanggit/ai-rpg-sub004/internal/blueprint"
	"github.com/yanghanggit/ai-rpg-sub004/internal/config"
	"github.com/yanghanggit/ai-rpg-sub004/internal/logger"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
	"github.com/yanghanggit/ai-rpg-sub004/internal/session"
	"github.com/yanghanggit/ai-rpg-sub004/internal/storage"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	catalog := blueprint.NewCatalog()
	err := catalog.Add(models.Blueprint{
		Name:        "tavern",
		PlayerActor: "A",
		Stages:      []models.StageBlueprint{{Name: "S", SystemMessage: "you are the tavern", Home: true}},
		Actors: []models.ActorBlueprint{
			{Name: "A", SystemMessage: "you are A", Stage: "S", Stats: models.StatsBlueprint{HP: 30, Attack: 5}},
			{Name: "B", SystemMessage: "you are B", Stage: "S", Stats: models.StatsBlueprint{HP: 30, Attack: 5}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	store := storage.NewSnapshotStore(t.TempDir(), 3, logger.Discard())
	m := session.NewManager(session.Options{
		LLM:        ai.NewPool(aitest.New(), ai.PoolOptions{Parallelism: 4, Timeout: 2 * time.Second, Log: logger.Discard()}),
		Blueprints: catalog,
		Snapshots:  store,
		Config:     config.Default().Game,
		Log:        logger.Discard(),
	})
	srv := httptest.NewServer(NewApp(m, catalog, store, logger.Discard()).Routes())
	t.Cleanup(func() {
		srv.Close()
		m.Shutdown(context.Background())
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func createAndStart(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var created sessionView
	if code := call(t, srv, "POST", "/api/sessions", map[string]string{"user": "alice", "game": "g1", "blueprint": "tavern"}, &created); code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	var started sessionView
	if code := call(t, srv, "POST", "/api/sessions/"+created.ID+"/start", nil, &started); code != http.StatusOK {
		t.Fatalf("start = %d", code)
	}
	if started.State != session.StateRunning {
		t.Fatalf("state = %s", started.State)
	}
	return created.ID
}

func TestSessionLifecycle(t *testing.T) {
	srv := newServer(t)
	id := createAndStart(t, srv)

	if code := call(t, srv, "POST", "/api/sessions/"+id+"/input", map[string]string{"command": "speak @B>**hello**"}, nil); code != http.StatusAccepted {
		t.Fatalf("input = %d", code)
	}

	var found *models.ClientMessage
	deadline := time.Now().Add(5 * time.Second)
	for found == nil && time.Now().Before(deadline) {
		var page struct {
			Messages []models.ClientMessage `json:"messages"`
		}
		if code := call(t, srv, "GET", "/api/sessions/"+id+"/messages?since=0", nil, &page); code != http.StatusOK {
			t.Fatalf("messages = %d", code)
		}
		for i := range page.Messages {
			if strings.Contains(page.Messages[i].Message, "A对B说:") {
				found = &page.Messages[i]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if found == nil {
		t.Fatal("speak message never arrived")
	}
	if !strings.Contains(found.HTML, "<strong>hello</strong>") {
		t.Fatalf("html = %q", found.HTML)
	}

	var out sessionView
	if code := call(t, srv, "POST", "/api/sessions/"+id+"/logout", nil, &out); code != http.StatusOK {
		t.Fatalf("logout = %d", code)
	}
	if out.State != session.StateTerminated {
		t.Fatalf("state = %s", out.State)
	}

	var saves struct {
		Saves []models.SaveInfo `json:"saves"`
	}
	if code := call(t, srv, "GET", "/api/saves?user=alice&game=g1", nil, &saves); code != http.StatusOK {
		t.Fatalf("saves = %d", code)
	}
	if len(saves.Saves) == 0 {
		t.Fatal("logout left no save")
	}
}

func TestErrorStatus(t *testing.T) {
	srv := newServer(t)

	var created sessionView
	call(t, srv, "POST", "/api/sessions", map[string]string{"user": "alice", "game": "g1", "blueprint": "tavern"}, &created)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown session", "POST", "/api/sessions/nope/start", nil, http.StatusNotFound},
		{"duplicate player", "POST", "/api/sessions", map[string]string{"user": "alice", "game": "g2", "blueprint": "tavern"}, http.StatusConflict},
		{"unknown blueprint", "POST", "/api/sessions", map[string]string{"user": "bob", "game": "g1", "blueprint": "nope"}, http.StatusNotFound},
		{"missing user", "POST", "/api/sessions", map[string]string{"game": "g1", "blueprint": "tavern"}, http.StatusBadRequest},
		{"input before start", "POST", "/api/sessions/" + created.ID + "/input", map[string]string{"command": "status"}, http.StatusConflict},
		{"exit before start", "POST", "/api/sessions/" + created.ID + "/exit", nil, http.StatusConflict},
		{"bad since", "GET", "/api/sessions/" + created.ID + "/messages?since=x", nil, http.StatusBadRequest},
		{"saves without game", "GET", "/api/saves?user=alice", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body map[string]string
			if code := call(t, srv, tc.method, tc.path, tc.body, &body); code != tc.want {
				t.Fatalf("status = %d, want %d (%v)", code, tc.want, body)
			}
			if body["error"] == "" {
				t.Fatalf("no error in %v", body)
			}
		})
	}
}

func TestBlueprints(t *testing.T) {
	srv := newServer(t)
	var out struct {
		Blueprints []string `json:"blueprints"`
	}
	if code := call(t, srv, "GET", "/api/blueprints", nil, &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	found := false
	for _, name := range out.Blueprints {
		found = found || name == "tavern"
	}
	if !found || len(out.Blueprints) < 2 {
		t.Fatalf("blueprints = %v", out.Blueprints)
	}
}

func TestWebsocketStream(t *testing.T) {
	srv := newServer(t)
	id := createAndStart(t, srv)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(streamCommand{Command: "speak @B>over the wire"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last uint64
	for {
		var m models.ClientMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		if m.Seq <= last {
			t.Fatalf("seq %d after %d", m.Seq, last)
		}
		last = m.Seq
		if strings.Contains(m.Message, "A对B说:over the wire") {
			if m.HTML == "" {
				t.Fatal("message not rendered")
			}
			return
		}
	}
}

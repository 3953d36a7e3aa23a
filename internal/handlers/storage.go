package handlers

import (
	"net/http"
	"strings"

	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// Saves handles GET /api/saves?user=&game=
func (a *App) Saves(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	game := strings.TrimSpace(r.URL.Query().Get("game"))
	if user == "" || game == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user and game are required", "kind": "validation"})
		return
	}
	if a.snapshots == nil {
		writeJSON(w, http.StatusOK, map[string]any{"saves": []models.SaveInfo{}})
		return
	}

	saves, err := a.snapshots.List(user, game)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if saves == nil {
		saves = []models.SaveInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"saves": saves})
}

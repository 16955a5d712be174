package httpserver

import (
	"net/http"

	"chatrelay/internal/service"
)

// handleListUsers serves the same presence snapshot the socket layer
// broadcasts, for clients that want to poll over plain HTTP.
func handleListUsers(chat *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := chat.Snapshot(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list users"})
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

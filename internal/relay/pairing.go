package relay

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dronerace/broker/internal/logging"
)

// PairingResponse is returned by the pairing endpoint.
type PairingResponse struct {
	Session   string     `json:"session"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Open      bool       `json:"open"`
	URL       string     `json:"url"`
}

// PairHandler issues the controller link for a live session. With pairing open the
// link carries only the session id.
func (h *Hub) PairHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
		if sessionID == "" {
			http.Error(w, ErrMissingSession.Error(), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		_, live := h.rooms[sessionID]
		h.mu.Unlock()
		if !live {
			http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
			return
		}

		query := url.Values{"session": {sessionID}}
		resp := PairingResponse{Session: sessionID, Open: h.tokens == nil}
		if h.tokens != nil {
			token, expires, err := h.tokens.Issue(sessionID)
			if err != nil {
				h.log.Error("pairing token issue failed", logging.Error(err), logging.Session(sessionID))
				http.Error(w, "pairing unavailable", http.StatusInternalServerError)
				return
			}
			resp.Token = token
			resp.ExpiresAt = &expires
			query.Set("token", token)
		}
		resp.URL = "/controller?" + query.Encode()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// ControllerPage tells a phone how to join the session named in its link.
func (h *Hub) ControllerPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		socket := url.Values{"role": {string(RoleController)}}
		if sessionID != "" {
			socket.Set("session", sessionID)
		}
		if token != "" {
			socket.Set("token", token)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!doctype html>
<html><body style="font-family:monospace;background:#111;color:#0ff;padding:40px">
<h2>Drone controller</h2>
<p>Session: %s</p>
<p>Connect to <code>/ws?%s</code> and send joystick, button and flip frames.</p>
</body></html>
`, html.EscapeString(sessionID), html.EscapeString(socket.Encode()))
	}
}

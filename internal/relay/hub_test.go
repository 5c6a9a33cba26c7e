package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dronerace/broker/internal/auth"
	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/input"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/session"
	"dronerace/broker/internal/store"
	"dronerace/broker/internal/websockettest"
)

type testRelay struct {
	hub     *Hub
	manager *session.Manager
	server  *httptest.Server
}

func newTestRelay(t *testing.T, opts ...Option) *testRelay {
	t.Helper()
	logger := logging.NewTestLogger()
	manager := session.NewManager(nil, session.WithManagerLogger(logger))
	base := []Option{
		WithLogger(logger),
		WithGate(input.NewGate(input.Config{}, logger)),
		WithValidator(input.NewValidator(input.DefaultConstraints, logger)),
	}
	hub := NewHub(manager, append(base, opts...)...)
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/pair", hub.PairHandler())
	mux.HandleFunc("/controller", hub.ControllerPage())
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		_ = manager.Stop()
	})
	return &testRelay{hub: hub, manager: manager, server: server}
}

func (tr *testRelay) wsURL(query url.Values) string {
	u := "ws" + strings.TrimPrefix(tr.server.URL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (tr *testRelay) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(tr.wsURL(query), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %v: %v (status %d)", query, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent skips state pushes until an event of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want string) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if event.Type == want {
			return event
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, payload any) {
	t.Helper()
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connectGame(t *testing.T, tr *testRelay) (*websocket.Conn, string) {
	t.Helper()
	game := tr.dial(t, url.Values{"role": {"game"}})
	registered := readEvent(t, game, EventRegistered)
	if registered.Role != RoleGame || registered.Session == "" {
		t.Fatalf("unexpected registration %+v", registered)
	}
	return game, registered.Session
}

func TestControllerPairsAndDrivesSession(t *testing.T) {
	tr := newTestRelay(t)
	game, sessionID := connectGame(t, tr)

	controller := tr.dial(t, url.Values{"role": {"controller"}, "session": {sessionID}})
	registered := readEvent(t, controller, EventRegistered)
	if registered.GameConnected == nil || !*registered.GameConnected {
		t.Fatalf("controller should see the game, got %+v", registered)
	}
	readEvent(t, game, EventControllerConnected)

	send(t, controller, controls.RemoteMessage{Type: controls.MessageJoystick, ID: controls.StickMove, Y: 1})
	echoed := readEvent(t, game, EventControls)
	if echoed.Controls == nil || !echoed.Controls.Forward {
		t.Fatalf("expected forward echo, got %+v", echoed)
	}

	send(t, controller, controls.RemoteMessage{Type: controls.MessageFlip, Axis: controls.AxisZ, Dir: -3})
	flip := readEvent(t, game, EventFlip)
	if flip.Axis != controls.AxisZ || flip.Dir != -1 {
		t.Fatalf("unexpected flip echo %+v", flip)
	}
	s, ok := tr.manager.Get(sessionID)
	if !ok || !s.Store().Flips().Pending() {
		t.Fatal("flip should be pending on the session store")
	}
	if stats := tr.hub.Stats(); stats.Games != 1 || stats.Controllers != 1 || stats.FramesAccepted != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestControllerDisconnectReleasesControls(t *testing.T) {
	tr := newTestRelay(t)
	game, sessionID := connectGame(t, tr)
	controller := tr.dial(t, url.Values{"role": {"controller"}, "session": {sessionID}})
	readEvent(t, controller, EventRegistered)

	send(t, controller, controls.RemoteMessage{Type: controls.MessageButton, Action: controls.ActionBoost, Pressed: true})
	readEvent(t, game, EventControls)
	s, _ := tr.manager.Get(sessionID)
	if !s.Store().Controls().Snapshot().Boost {
		t.Fatal("boost should be held")
	}

	controller.Close()
	readEvent(t, game, EventControllerDisconnected)
	if s.Store().Controls().Snapshot().Boost {
		t.Fatal("controller loss must release boost")
	}
}

func TestRegisterMessageAndGameMessages(t *testing.T) {
	tr := newTestRelay(t)
	game := tr.dial(t, nil)
	send(t, game, Registration{Type: MessageRegister, Role: RoleGame})
	registered := readEvent(t, game, EventRegistered)
	s, ok := tr.manager.Get(registered.Session)
	if !ok {
		t.Fatalf("session %q not created", registered.Session)
	}

	send(t, game, GameMessage{Type: MessageScreen, Screen: string(store.ScreenPlaying)})
	send(t, game, GameMessage{Type: MessageKey, Key: "w", Down: true})
	send(t, game, GameMessage{Type: MessageGyroEnable, Enabled: true})
	send(t, game, GameMessage{Type: MessageLevel, Level: 2})
	waitFor(t, "game messages", func() bool {
		snap := s.Store().Snapshot()
		return snap.Screen == store.ScreenPlaying && snap.Controls.Forward && snap.GyroEnabled && snap.Level == 2
	})

	send(t, game, GameMessage{Type: MessageScreen, Screen: "credits"})
	if event := readEvent(t, game, EventError); !strings.Contains(event.Message, "unknown game screen") {
		t.Fatalf("unexpected error %+v", event)
	}
}

func TestGameDisconnectEndsSession(t *testing.T) {
	tr := newTestRelay(t)
	game, sessionID := connectGame(t, tr)
	controller := tr.dial(t, url.Values{"role": {"controller"}, "session": {sessionID}})
	readEvent(t, controller, EventRegistered)

	game.Close()
	waitFor(t, "session removal", func() bool { return tr.manager.Len() == 0 })
	if event := readEvent(t, controller, EventError); event.Message != "game disconnected" {
		t.Fatalf("unexpected event %+v", event)
	}
	if stats := tr.hub.Stats(); stats.Rooms != 0 {
		t.Fatalf("room should be released, got %+v", stats)
	}
}

func TestControllerRejectedWithoutGame(t *testing.T) {
	tr := newTestRelay(t)
	_, resp, err := websocket.DefaultDialer.Dial(tr.wsURL(url.Values{"role": {"controller"}, "session": {"missing"}}), nil)
	if err == nil {
		t.Fatal("expected the dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func TestPairingTokensGateControllers(t *testing.T) {
	tokens, err := auth.NewPairingTokens("secret", time.Minute, 0)
	if err != nil {
		t.Fatalf("NewPairingTokens: %v", err)
	}
	tr := newTestRelay(t, WithPairing(tokens))
	_, sessionID := connectGame(t, tr)

	_, resp, err := websocket.DefaultDialer.Dial(tr.wsURL(url.Values{"role": {"controller"}, "session": {sessionID}}), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %v", resp)
	}

	pairResp, err := http.Get(tr.server.URL + "/pair?session=" + url.QueryEscape(sessionID))
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	defer pairResp.Body.Close()
	var pairing PairingResponse
	if err := json.NewDecoder(pairResp.Body).Decode(&pairing); err != nil {
		t.Fatalf("decode pairing: %v", err)
	}
	if pairing.Open || pairing.Token == "" || !strings.Contains(pairing.URL, "token=") {
		t.Fatalf("unexpected pairing %+v", pairing)
	}

	controller := tr.dial(t, url.Values{"role": {"controller"}, "token": {pairing.Token}})
	if registered := readEvent(t, controller, EventRegistered); registered.Session != sessionID {
		t.Fatalf("token should pair with %q, got %+v", sessionID, registered)
	}
}

func TestSubmitRunsValidatorAndGate(t *testing.T) {
	tr := newTestRelay(t)
	s, err := tr.manager.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	bad := tr.hub.Submit(s.ID(), "bot", controls.RemoteMessage{Type: controls.MessageJoystick, ID: controls.StickMove, X: 4})
	if bad.Accepted || bad.Reason != string(input.ValidationReasonAxisRange) {
		t.Fatalf("expected axis rejection, got %+v", bad)
	}
	first := tr.hub.Submit(s.ID(), "bot", controls.RemoteMessage{Type: controls.MessageButton, Action: controls.ActionBoost, Pressed: true, Seq: 2})
	if !first.Accepted {
		t.Fatalf("expected acceptance, got %+v", first)
	}
	replayed := tr.hub.Submit(s.ID(), "bot", controls.RemoteMessage{Type: controls.MessageButton, Action: controls.ActionBoost, Seq: 1})
	if replayed.Accepted || replayed.Reason != string(input.DropReasonSequence) {
		t.Fatalf("expected sequence drop, got %+v", replayed)
	}
	if !s.Store().Controls().Snapshot().Boost {
		t.Fatal("the replayed release must not apply")
	}
	if missing := tr.hub.Submit("nope", "bot", controls.RemoteMessage{Type: controls.MessageControls}); !errors.Is(missing.Err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %+v", missing)
	}
}

func TestUnresponsiveControllerIsDropped(t *testing.T) {
	tr := newTestRelay(t, WithPingInterval(40*time.Millisecond))
	game, sessionID := connectGame(t, tr)

	query := url.Values{"role": {"controller"}, "session": {sessionID}}
	controller, _, err := websockettest.DialIgnoringPongs(tr.wsURL(query), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer controller.Close()

	readEvent(t, game, EventControllerConnected)
	readEvent(t, game, EventControllerDisconnected)
}

func TestPushStateReachesGameClients(t *testing.T) {
	tr := newTestRelay(t)
	game, sessionID := connectGame(t, tr)
	tr.hub.PushState()
	state := readEvent(t, game, EventState)
	if state.Session != sessionID || state.Data == nil {
		t.Fatalf("unexpected state push %+v", state)
	}
}

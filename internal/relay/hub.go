// Package relay connects game screens and phone controllers to their drone session
// over WebSockets. Game clients drive the local producers (keyboard, touch, gyro) and
// the presentation screen; a paired controller drives the remote producer, and every
// accepted controller frame is echoed to the game clients of the session.
package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dronerace/broker/internal/auth"
	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/input"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/session"
	"dronerace/broker/internal/store"
)

const (
	defaultPingInterval  = 30 * time.Second
	defaultMaxPayload    = 64 << 10
	defaultStateInterval = 50 * time.Millisecond
	registerTimeout      = 5 * time.Second
)

var (
	// ErrUnknownSession reports a session id with no live session.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionMismatch reports a pairing token issued for another session.
	ErrSessionMismatch = errors.New("pairing token does not match session")
	// ErrMissingSession reports a controller registration without a session.
	ErrMissingSession = errors.New("controller registration requires a session")
	// ErrHubClosed reports work submitted after Close.
	ErrHubClosed = errors.New("relay hub closed")
)

// Option customises the hub.
type Option func(*Hub)

// WithLogger overrides the hub logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithPairing requires controllers to present a pairing token. Nil keeps pairing open.
func WithPairing(tokens *auth.PairingTokens) Option {
	return func(h *Hub) { h.tokens = tokens }
}

// WithGate installs the replay, staleness and rate gate for controller frames.
func WithGate(gate *input.Gate) Option {
	return func(h *Hub) { h.gate = gate }
}

// WithValidator installs the malformed frame validator for controller frames.
func WithValidator(validator *input.Validator) Option {
	return func(h *Hub) { h.validator = validator }
}

// WithPingInterval sets the keepalive cadence. Peers silent for one and a half
// intervals are dropped.
func WithPingInterval(interval time.Duration) Option {
	return func(h *Hub) {
		if interval > 0 {
			h.pingInterval = interval
		}
	}
}

// WithMaxPayload caps inbound frame size.
func WithMaxPayload(limit int64) Option {
	return func(h *Hub) {
		if limit > 0 {
			h.maxPayload = limit
		}
	}
}

// WithMaxClients bounds concurrent connections. Zero disables the limit.
func WithMaxClients(limit int) Option {
	return func(h *Hub) {
		if limit >= 0 {
			h.maxClients = limit
		}
	}
}

// WithAllowedOrigins restricts browser origins. An empty list allows every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.origins = make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				h.origins[strings.ToLower(trimmed)] = struct{}{}
			}
		}
	}
}

// WithStateInterval sets how often session snapshots are pushed to game clients.
func WithStateInterval(interval time.Duration) Option {
	return func(h *Hub) {
		if interval > 0 {
			h.stateInterval = interval
		}
	}
}

// Stats summarises hub activity.
type Stats struct {
	Rooms          int    `json:"rooms"`
	Games          int    `json:"games"`
	Controllers    int    `json:"controllers"`
	Pending        int    `json:"pending"`
	FramesAccepted uint64 `json:"framesAccepted"`
	FramesRejected uint64 `json:"framesRejected"`
}

// SubmitResult reports how a controller frame was handled.
type SubmitResult struct {
	Accepted   bool
	Reason     string
	Warn       bool
	Disconnect bool
	Err        error
}

// room binds the connections and producers of one session.
type room struct {
	session  *session.Session
	remote   *controls.Remote
	keyboard *controls.Keyboard
	touch    *controls.Touch
	gyro     *controls.Gyro

	mu          sync.Mutex
	games       map[*client]struct{}
	controller  *client
	unsubscribe func()
}

func newRoom(s *session.Session) *room {
	st := s.Store()
	return &room{
		session:  s,
		remote:   controls.NewRemote(st.Controls(), st.Flips()),
		keyboard: controls.NewKeyboard(st.Controls(), st.Flips()),
		touch:    controls.NewTouch(st.Controls()),
		gyro:     controls.NewGyro(st.Controls()),
		games:    make(map[*client]struct{}),
	}
}

func (r *room) gameClients() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client, 0, len(r.games))
	for c := range r.games {
		out = append(out, c)
	}
	return out
}

func (r *room) currentController() *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller
}

// broadcast sends event to every game client of the room.
func (r *room) broadcast(event Event) {
	games := r.gameClients()
	if len(games) == 0 {
		return
	}
	payload, err := event.encode()
	if err != nil {
		return
	}
	for _, c := range games {
		c.enqueue(payload)
	}
}

// Hub owns the rooms of every session that has connected clients.
type Hub struct {
	manager *session.Manager
	log     *logging.Logger

	tokens    *auth.PairingTokens
	gate      *input.Gate
	validator *input.Validator

	upgrader      websocket.Upgrader
	origins       map[string]struct{}
	pingInterval  time.Duration
	maxPayload    int64
	maxClients    int
	stateInterval time.Duration

	mu      sync.Mutex
	rooms   map[string]*room
	clients int
	pending int
	closed  bool
	wg      sync.WaitGroup

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewHub builds a hub serving the sessions of manager.
func NewHub(manager *session.Manager, opts ...Option) *Hub {
	h := &Hub{
		manager:       manager,
		log:           logging.L(),
		pingInterval:  defaultPingInterval,
		maxPayload:    defaultMaxPayload,
		stateInterval: defaultStateInterval,
		rooms:         make(map[string]*room),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// Pairing returns the token issuer, or nil when pairing is open.
func (h *Hub) Pairing() *auth.PairingTokens { return h.tokens }

// Gate returns the controller frame gate.
func (h *Hub) Gate() *input.Gate { return h.gate }

// Validator returns the controller frame validator.
func (h *Hub) Validator() *input.Validator { return h.validator }

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	stats := Stats{Rooms: len(h.rooms), Pending: h.pending}
	h.mu.Unlock()
	for _, r := range rooms {
		r.mu.Lock()
		stats.Games += len(r.games)
		if r.controller != nil {
			stats.Controllers++
		}
		r.mu.Unlock()
	}
	stats.FramesAccepted = h.accepted.Load()
	stats.FramesRejected = h.rejected.Load()
	return stats
}

// ServeHTTP upgrades a connection and registers it from the query string
// (role, session, token) or from a register message sent first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	//1.- Reserve a slot before the upgrade so the limit also covers handshakes.
	if !h.reserve() {
		http.Error(w, "relay at capacity", http.StatusServiceUnavailable)
		return
	}
	reserved := true
	defer func() {
		if reserved {
			h.release()
		}
	}()

	query := r.URL.Query()
	var reg *Registration
	if raw := query.Get("role"); raw != "" {
		role, err := ParseRole(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		token := strings.TrimSpace(query.Get("token"))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Pairing-Token"))
		}
		reg = &Registration{Role: role, Session: strings.TrimSpace(query.Get("session")), Token: token}
		//2.- Reject unpaired controllers before upgrading when the request says who they are.
		if role == RoleController {
			if _, err := h.resolveController(*reg); err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrUnknownSession) || errors.Is(err, ErrMissingSession) {
					status = http.StatusNotFound
				}
				http.Error(w, err.Error(), status)
				return
			}
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("relay upgrade failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		return
	}
	conn.SetReadLimit(h.maxPayload)

	//3.- Connections without a role announce themselves with their first message.
	if reg == nil {
		_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		decoded, err := DecodeRegistration(raw)
		if err != nil {
			writeDirect(conn, Event{Type: EventError, Message: err.Error()})
			conn.Close()
			return
		}
		reg = &decoded
	}

	c := newClient(uuid.NewString(), conn, h.log.With(logging.String("remote_addr", r.RemoteAddr)))
	c.role = reg.Role
	if err := h.attach(c, *reg); err != nil {
		h.log.Info("relay registration rejected", logging.Error(err), logging.String("role", string(reg.Role)))
		writeDirect(conn, Event{Type: EventError, Message: err.Error()})
		conn.Close()
		return
	}
	h.promote()
	reserved = false

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump(h.pingInterval)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(c)
	}()
}

func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.maxClients > 0 && h.clients+h.pending >= h.maxClients {
		return false
	}
	h.pending++
	return true
}

func (h *Hub) release() {
	h.mu.Lock()
	h.pending--
	h.mu.Unlock()
}

func (h *Hub) promote() {
	h.mu.Lock()
	h.pending--
	h.clients++
	h.mu.Unlock()
}

// resolveController returns the session a controller registration pairs with.
func (h *Hub) resolveController(reg Registration) (string, error) {
	sessionID := reg.Session
	if h.tokens != nil {
		if reg.Token == "" {
			return "", auth.ErrInvalidToken
		}
		claims, err := h.tokens.Verify(reg.Token)
		if err != nil {
			return "", err
		}
		if sessionID != "" && sessionID != claims.Subject {
			return "", ErrSessionMismatch
		}
		sessionID = claims.Subject
	}
	if sessionID == "" {
		return "", ErrMissingSession
	}
	h.mu.Lock()
	_, ok := h.rooms[sessionID]
	h.mu.Unlock()
	if !ok {
		return "", ErrUnknownSession
	}
	return sessionID, nil
}

// roomFor returns the room of sessionID, opening it when the session is live.
func (h *Hub) roomFor(sessionID string) (*room, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if r, ok := h.rooms[sessionID]; ok {
		h.mu.Unlock()
		return r, nil
	}
	h.mu.Unlock()

	s, ok := h.manager.Get(sessionID)
	if !ok || s.Closed() {
		return nil, ErrUnknownSession
	}
	r := newRoom(s)

	h.mu.Lock()
	if existing, ok := h.rooms[sessionID]; ok {
		h.mu.Unlock()
		return existing, nil
	}
	h.rooms[sessionID] = r
	h.mu.Unlock()

	//1.- Store changes reach game clients as soon as they happen.
	unsubscribe := s.Store().Subscribe(func(snap store.Snapshot) {
		r.broadcast(Event{Type: EventStore, Session: sessionID, Data: snap})
	})
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
	return r, nil
}

func (h *Hub) attach(c *client, reg Registration) error {
	switch reg.Role {
	case RoleGame:
		return h.attachGame(c, reg)
	case RoleController:
		return h.attachController(c, reg)
	default:
		return ErrUnknownRole
	}
}

func (h *Hub) attachGame(c *client, reg Registration) error {
	sessionID := reg.Session
	if sessionID == "" {
		s, err := h.manager.Create()
		if err != nil {
			return err
		}
		sessionID = s.ID()
	}
	r, err := h.roomFor(sessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.games[c] = struct{}{}
	controller := r.controller
	r.mu.Unlock()
	c.room = r

	c.emit(Event{
		Type:                EventRegistered,
		Role:                RoleGame,
		Session:             sessionID,
		ClientID:            c.id,
		ControllerConnected: boolPtr(controller != nil),
	})
	if controller != nil {
		controller.emit(Event{Type: EventGameConnected, Session: sessionID})
	}
	h.log.Info("game client connected", logging.Session(sessionID), logging.Client(c.id))
	return nil
}

func (h *Hub) attachController(c *client, reg Registration) error {
	sessionID, err := h.resolveController(reg)
	if err != nil {
		return err
	}
	r, err := h.roomFor(sessionID)
	if err != nil {
		return err
	}

	//1.- A newer controller replaces the paired one.
	r.mu.Lock()
	previous := r.controller
	r.controller = c
	r.mu.Unlock()
	c.room = r
	if previous != nil {
		h.log.Info("controller replaced", logging.Session(sessionID), logging.Client(previous.id))
		h.forgetController(previous.id)
		previous.shutdown()
		r.remote.Disconnect()
	}

	c.emit(Event{
		Type:          EventRegistered,
		Role:          RoleController,
		Session:       sessionID,
		ClientID:      c.id,
		GameConnected: boolPtr(len(r.gameClients()) > 0),
	})
	r.broadcast(Event{Type: EventControllerConnected, Session: sessionID})
	h.log.Info("controller connected", logging.Session(sessionID), logging.Client(c.id))
	return nil
}

func (h *Hub) forgetController(clientID string) {
	h.gate.Forget(clientID)
	h.validator.Forget(clientID)
}

// detach unregisters c. Losing the controller releases its controls before returning;
// losing the last game client ends the session.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	h.clients--
	h.mu.Unlock()
	c.shutdown()

	r := c.room
	if r == nil {
		return
	}
	sessionID := r.session.ID()
	switch c.role {
	case RoleController:
		r.mu.Lock()
		current := r.controller == c
		if current {
			r.controller = nil
		}
		r.mu.Unlock()
		h.forgetController(c.id)
		if !current {
			return
		}
		r.remote.Disconnect()
		state := r.session.Store().Controls().Snapshot()
		r.broadcast(Event{Type: EventControllerDisconnected, Session: sessionID})
		r.broadcast(Event{Type: EventControls, Session: sessionID, Controls: &state})
		h.log.Info("controller disconnected", logging.Session(sessionID), logging.Client(c.id))
	case RoleGame:
		r.mu.Lock()
		delete(r.games, c)
		remaining := len(r.games)
		r.mu.Unlock()
		h.log.Info("game client disconnected", logging.Session(sessionID), logging.Client(c.id))
		if remaining == 0 {
			h.closeRoom(sessionID, r)
		}
	}
}

// closeRoom tears the room down and removes its session.
func (h *Hub) closeRoom(sessionID string, r *room) {
	h.mu.Lock()
	if h.rooms[sessionID] == r {
		delete(h.rooms, sessionID)
	}
	h.mu.Unlock()

	r.mu.Lock()
	controller := r.controller
	r.controller = nil
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if controller != nil {
		controller.emit(Event{Type: EventError, Session: sessionID, Message: "game disconnected"})
		controller.shutdown()
	}
	if err := h.manager.Remove(sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		h.log.Warn("session removal failed", logging.Error(err), logging.Session(sessionID))
	}
}

func (h *Hub) readPump(c *client) {
	defer h.detach(c)

	//1.- Peers must answer pings before the read deadline expires.
	pongWait := h.pingInterval + h.pingInterval/2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("relay read failed", logging.Error(err), logging.Client(c.id))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		switch c.role {
		case RoleGame:
			h.handleGame(c, raw)
		case RoleController:
			if !h.handleController(c, raw) {
				return
			}
		}
	}
}

func (h *Hub) handleGame(c *client, raw []byte) {
	r := c.room
	msg, err := DecodeGame(raw)
	if err != nil {
		c.emit(Event{Type: EventError, Message: err.Error()})
		return
	}
	st := r.session.Store()
	switch msg.Type {
	case MessageKey:
		r.keyboard.Handle(controls.KeyEvent{Key: msg.Key, Down: msg.Down, Repeat: msg.Repeat})
	case MessageTouch:
		switch msg.Stick {
		case TouchMove:
			r.touch.Move(msg.X, msg.Y)
		case TouchAltitude:
			r.touch.Altitude(msg.Y)
		case TouchRelease:
			r.touch.Release()
		default:
			c.emit(Event{Type: EventError, Message: "unknown touch stick " + msg.Stick})
		}
	case MessageGyro:
		r.gyro.Orientation(msg.Beta, msg.Gamma)
	case MessageGyroEnable:
		r.gyro.SetEnabled(msg.Enabled)
		st.SetGyroEnabled(msg.Enabled)
	case MessageReset:
		err = r.session.Reset()
	case MessageScreen:
		var screen store.Screen
		if screen, err = store.ParseScreen(msg.Screen); err == nil {
			err = st.SetGameScreen(screen)
		}
	case MessageLevel:
		err = r.session.SelectLevel(msg.Level)
	default:
		c.emit(Event{Type: EventError, Message: "unknown message type " + msg.Type})
		return
	}
	if err != nil {
		c.emit(Event{Type: EventError, Message: err.Error()})
	}
}

// handleController applies one controller frame and reports whether the connection stays open.
func (h *Hub) handleController(c *client, raw []byte) bool {
	msg, err := DecodeController(raw)
	if err != nil {
		h.rejected.Add(1)
		c.emit(Event{Type: EventError, Message: err.Error()})
		return true
	}
	result := h.submit(c.room, c.id, msg)
	if result.Warn {
		c.emit(Event{Type: EventError, Message: "too many invalid frames: " + result.Reason})
	}
	if result.Err != nil {
		c.emit(Event{Type: EventError, Message: result.Err.Error()})
	}
	if result.Disconnect {
		h.log.Warn("controller disconnected by validator", logging.Client(c.id), logging.String("reason", result.Reason))
		c.emit(Event{Type: EventError, Message: "disconnected: repeated invalid frames"})
		return false
	}
	return true
}

// Submit applies a controller frame to sessionID on behalf of clientID. It runs the same
// validator, gate and echo as a WebSocket controller.
func (h *Hub) Submit(sessionID, clientID string, msg controls.RemoteMessage) SubmitResult {
	r, err := h.roomFor(sessionID)
	if err != nil {
		h.rejected.Add(1)
		return SubmitResult{Err: err}
	}
	return h.submit(r, clientID, msg)
}

// ReleaseRemote ends a controller channel that does not hold a WebSocket, such as a
// gRPC stream. The remote controls of sessionID return to neutral and game clients see
// the released state. The client's gate and validator history is dropped either way.
func (h *Hub) ReleaseRemote(sessionID, clientID string) {
	h.forgetController(clientID)
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	r.remote.Disconnect()
	state := r.session.Store().Controls().Snapshot()
	r.broadcast(Event{Type: EventControls, Session: sessionID, Controls: &state})
	h.log.Info("remote controls released", logging.Session(sessionID), logging.Client(clientID))
}

func (h *Hub) submit(r *room, clientID string, msg controls.RemoteMessage) SubmitResult {
	//1.- Malformed frames count towards the validator cooldown.
	decision := h.validator.Validate(clientID, msg)
	if !decision.Accepted {
		h.rejected.Add(1)
		return SubmitResult{Reason: string(decision.Reason), Warn: decision.Warn, Disconnect: decision.Disconnect}
	}

	//2.- Replayed, stale and flooding frames are dropped quietly.
	frame := input.Frame{ClientID: clientID, SequenceID: msg.Seq, Droppable: msg.Droppable()}
	if msg.SentAt > 0 {
		frame.SentAt = time.UnixMilli(msg.SentAt)
	}
	if gated := h.gate.Evaluate(frame); !gated.Accepted {
		h.rejected.Add(1)
		return SubmitResult{Reason: gated.Reason.String()}
	}

	//3.- Apply, then echo to the game clients.
	if err := r.remote.Handle(msg); err != nil {
		h.rejected.Add(1)
		return SubmitResult{Err: err}
	}
	h.accepted.Add(1)
	sessionID := r.session.ID()
	switch {
	case msg.Type == controls.MessageFlip:
		req := controls.FlipRequest{Axis: msg.Axis, Direction: msg.Dir}
		if msg.Flip != nil {
			req = *msg.Flip
		}
		req = req.Normalize()
		r.broadcast(Event{Type: EventFlip, Session: sessionID, Axis: req.Axis, Dir: req.Direction})
	case msg.Type == controls.MessageButton && msg.Action == controls.ActionFlip:
		if msg.Pressed {
			r.broadcast(Event{Type: EventFlip, Session: sessionID, Axis: controls.AxisX, Dir: 1})
		}
	case msg.Type == controls.MessageHandshake:
		r.broadcast(Event{Type: EventControllerConnected, Session: sessionID, Name: r.remote.Name()})
	default:
		state := r.session.Store().Controls().Snapshot()
		r.broadcast(Event{Type: EventControls, Session: sessionID, Controls: &state})
	}
	return SubmitResult{Accepted: true}
}

// Run pushes session snapshots to game clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.stateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.PushState()
		}
	}
}

// PushState sends one snapshot per room to its game clients and drops rooms whose
// session has ended.
func (h *Hub) PushState() {
	h.mu.Lock()
	rooms := make(map[string]*room, len(h.rooms))
	for id, r := range h.rooms {
		rooms[id] = r
	}
	h.mu.Unlock()

	for id, r := range rooms {
		if r.session.Closed() {
			h.dropRoom(id, r)
			continue
		}
		if len(r.gameClients()) == 0 {
			continue
		}
		r.broadcast(Event{Type: EventState, Session: id, Data: r.session.Snapshot()})
	}
}

// dropRoom disconnects the clients of a room whose session ended elsewhere.
func (h *Hub) dropRoom(sessionID string, r *room) {
	h.mu.Lock()
	if h.rooms[sessionID] == r {
		delete(h.rooms, sessionID)
	}
	h.mu.Unlock()
	r.mu.Lock()
	clients := make([]*client, 0, len(r.games)+1)
	for c := range r.games {
		clients = append(clients, c)
	}
	if r.controller != nil {
		clients = append(clients, r.controller)
	}
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	for _, c := range clients {
		c.emit(Event{Type: EventError, Session: sessionID, Message: "session ended"})
		c.shutdown()
	}
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := make(map[string]*room, len(h.rooms))
	for id, r := range h.rooms {
		rooms[id] = r
	}
	h.mu.Unlock()
	for id, r := range rooms {
		h.dropRoom(id, r)
	}
	h.wg.Wait()
}

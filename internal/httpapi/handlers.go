// Package httpapi serves the operational endpoints of the broker: health checks,
// Prometheus metrics, session read models and flight recording controls.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"dronerace/broker/internal/input"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/relay"
	"dronerace/broker/internal/replay"
	"dronerace/broker/internal/session"
	"dronerace/broker/internal/simulation"
)

// ReadinessProvider exposes broker state required for readiness checks.
type ReadinessProvider interface {
	ClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// SessionDirectory lists live sessions and looks one up by id.
type SessionDirectory interface {
	Snapshots() []session.Snapshot
	SessionSnapshot(id string) (session.Snapshot, bool)
}

// RuntimeStats is the counter set rendered by the metrics endpoint.
type RuntimeStats struct {
	Sessions        int
	SessionsCreated uint64
	Relay           relay.Stats
	Drops           input.DropCounters
	Tick            simulation.TickMetricsSnapshot
	Replay          *replay.StorageStats
}

// StatsFunc returns the current runtime counters.
type StatsFunc func() RuntimeStats

// ReplayDumper flushes flight recordings and optionally returns their location.
type ReplayDumper interface {
	DumpReplay(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger          *logging.Logger
	Readiness       ReadinessProvider
	Stats           StatsFunc
	Sessions        SessionDirectory
	Replay          ReplayDumper
	ReplayDirectory string
	AdminToken      string
	RateLimiter     RateLimiter
	TimeSource      func() time.Time
}

// HandlerSet bundles the broker operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsFunc
	sessions    SessionDirectory
	replay      ReplayDumper
	replayDir   string
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		sessions:    opts.Sessions,
		replay:      opts.Replay,
		replayDir:   strings.TrimSpace(opts.ReplayDirectory),
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/sessions", h.SessionsHandler())
	mux.HandleFunc("/sessions/{id}", h.SessionHandler())
	mux.HandleFunc("/replays", h.ReplaysHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports broker readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Clients, resp.PendingClients = h.readiness.ClientCounts()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var stats RuntimeStats
		if h.stats != nil {
			stats = h.stats()
		}
		var uptime float64
		if h.readiness != nil {
			uptime = h.readiness.Uptime().Seconds()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		gauge(w, "broker_uptime_seconds", "Broker uptime in seconds.", fmt.Sprintf("%.0f", uptime))
		gauge(w, "broker_sessions", "Live drone sessions.", stats.Sessions)
		counter(w, "broker_sessions_created_total", "Sessions created since start.", stats.SessionsCreated)
		gauge(w, "broker_game_clients", "Connected game clients.", stats.Relay.Games)
		gauge(w, "broker_controllers", "Paired controller devices.", stats.Relay.Controllers)
		gauge(w, "broker_pending_clients", "WebSocket handshakes awaiting registration.", stats.Relay.Pending)
		counter(w, "broker_controller_frames_accepted_total", "Controller frames applied to a session.", stats.Relay.FramesAccepted)
		counter(w, "broker_controller_frames_rejected_total", "Controller frames rejected by validation or gating.", stats.Relay.FramesRejected)

		fmt.Fprintf(w, "# HELP broker_controller_frames_dropped_total Controller frames dropped by the input gate per reason.\n")
		fmt.Fprintf(w, "# TYPE broker_controller_frames_dropped_total counter\n")
		fmt.Fprintf(w, "broker_controller_frames_dropped_total{reason=%q} %d\n", input.DropReasonSequence.String(), stats.Drops.Sequence)
		fmt.Fprintf(w, "broker_controller_frames_dropped_total{reason=%q} %d\n", input.DropReasonStale.String(), stats.Drops.Stale)
		fmt.Fprintf(w, "broker_controller_frames_dropped_total{reason=%q} %d\n", input.DropReasonRateLimited.String(), stats.Drops.RateLimited)

		gauge(w, "broker_step_duration_avg_seconds", "Average simulation step duration.", stats.Tick.Average.Seconds())
		gauge(w, "broker_step_duration_max_seconds", "Longest simulation step duration.", stats.Tick.Max.Seconds())
		counter(w, "broker_step_overruns_total", "Simulation steps that exceeded their budget.", stats.Tick.Overruns)

		if h.sessions != nil {
			snaps := h.sessions.Snapshots()
			if len(snaps) > 0 {
				fmt.Fprintf(w, "# HELP broker_session_gates_passed Gates passed in the current run per session.\n")
				fmt.Fprintf(w, "# TYPE broker_session_gates_passed gauge\n")
				for _, snap := range snaps {
					fmt.Fprintf(w, "broker_session_gates_passed{session=%q} %d\n", snap.ID, snap.Store.GatesPassed)
				}
				fmt.Fprintf(w, "# HELP broker_session_score Score of the current run per session.\n")
				fmt.Fprintf(w, "# TYPE broker_session_score gauge\n")
				for _, snap := range snaps {
					fmt.Fprintf(w, "broker_session_score{session=%q} %d\n", snap.ID, snap.Store.Score)
				}
			}
		}
		if stats.Replay != nil {
			gauge(w, "broker_replay_flights", "Recorded flights kept on disk.", stats.Replay.Flights)
			gauge(w, "broker_replay_bytes", "Disk footprint of recorded flights in bytes.", stats.Replay.Bytes)
		}
	}
}

func gauge(w http.ResponseWriter, name, help string, value any) {
	metric(w, name, help, "gauge", value)
}

func counter(w http.ResponseWriter, name, help string, value any) {
	metric(w, name, help, "counter", value)
}

func metric(w http.ResponseWriter, name, help, kind string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n", name, value)
}

// SessionsHandler lists the live sessions.
func (h *HandlerSet) SessionsHandler() http.HandlerFunc {
	type entry struct {
		ID          string `json:"id"`
		Tick        uint64 `json:"tick"`
		Status      string `json:"gameStatus"`
		Screen      string `json:"gameScreen"`
		Level       int    `json:"level"`
		Score       int    `json:"score"`
		GatesPassed int    `json:"gatesPassed"`
		TotalGates  int    `json:"totalGates"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		entries := []entry{}
		if h.sessions != nil {
			for _, snap := range h.sessions.Snapshots() {
				entries = append(entries, entry{
					ID:          snap.ID,
					Tick:        snap.Tick,
					Status:      string(snap.Store.Status),
					Screen:      string(snap.Store.Screen),
					Level:       snap.Store.Level,
					Score:       snap.Store.Score,
					GatesPassed: snap.Store.GatesPassed,
					TotalGates:  snap.Store.TotalGates,
				})
			}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// SessionHandler renders one session snapshot as canonical protobuf JSON.
func (h *HandlerSet) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		if h.sessions == nil || id == "" {
			http.NotFound(w, r)
			return
		}
		snap, ok := h.sessions.SessionSnapshot(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		//1.- Round-trip through a Struct so the wire shape matches the telemetry stream.
		raw, err := json.Marshal(snap)
		if err != nil {
			http.Error(w, "encode snapshot", http.StatusInternalServerError)
			return
		}
		var msg structpb.Struct
		if err := protojson.Unmarshal(raw, &msg); err != nil {
			http.Error(w, "encode snapshot", http.StatusInternalServerError)
			return
		}
		body, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(&msg)
		if err != nil {
			http.Error(w, "encode snapshot", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// ReplaysHandler lists the closed flight recordings.
func (h *HandlerSet) ReplaysHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.replayDir == "" {
			http.Error(w, "flight recording is disabled", http.StatusNotFound)
			return
		}
		entries, err := replay.List(h.replayDir)
		if err != nil {
			logging.FromContext(r.Context(), h.logger).Warn("flight listing failed", logging.Error(err))
			http.Error(w, "failed to list flights", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []replay.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// ReplayDumpHandler authorises and triggers a flush of every flight recording.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context(), h.logger).With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay dump denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			reqLogger.Warn("replay dump denied: no dumper configured")
			http.Error(w, "replay dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.DumpReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay dump trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger replay dump", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay dump triggered")
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

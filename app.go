package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"dronerace/broker/internal/auth"
	configpkg "dronerace/broker/internal/config"
	"dronerace/broker/internal/httpapi"
	"dronerace/broker/internal/input"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/relay"
	"dronerace/broker/internal/replay"
	"dronerace/broker/internal/scenery"
	"dronerace/broker/internal/session"
	"dronerace/broker/internal/terrain"
)

const (
	// pairingTokenTTL bounds how long a scanned pairing link stays valid.
	pairingTokenTTL = 10 * time.Minute
	// pairingTokenLeeway absorbs clock skew between the broker and token issuers.
	pairingTokenLeeway = 5 * time.Second
	// controllerMaxFrameAge drops droppable controller frames older than this.
	controllerMaxFrameAge = 750 * time.Millisecond
	// replaySweepInterval is how often flight retention runs.
	replaySweepInterval = 10 * time.Minute
)

// Broker owns every long-lived component of the drone race server.
type Broker struct {
	cfg     *configpkg.Config
	log     *logging.Logger
	started time.Time

	ground  *terrain.HeightField
	manager *session.Manager
	hub     *relay.Hub
	bridge  *brokerBridge
	cleaner *replay.Cleaner
	mux     *http.ServeMux

	mu         sync.Mutex
	cancel     context.CancelFunc
	workers    sync.WaitGroup
	startupErr error
}

// NewBroker assembles the terrain, the session manager, the relay hub and the HTTP routes.
func NewBroker(cfg *configpkg.Config, logger *logging.Logger) (*Broker, error) {
	if cfg == nil {
		return nil, errors.New("broker config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	b := &Broker{cfg: cfg, log: logger, started: time.Now()}

	//1.- Sample the shared terrain once; every session collides against the same grid.
	ground, err := terrain.NewHeightField(terrain.DefaultSize, terrain.DefaultSegments)
	if err != nil {
		return nil, fmt.Errorf("build terrain: %w", err)
	}
	b.ground = ground

	//2.- Sessions record flights only when a replay directory is configured.
	managerOpts := []session.ManagerOption{
		session.WithManagerLogger(logger.With(logging.Component("sessions"))),
		session.WithTickRate(cfg.TickHz),
		session.WithDefaultEnergyPolicy(cfg.EnergyPolicy),
		session.WithMaxSessions(cfg.MaxClients),
	}
	if dir := strings.TrimSpace(cfg.ReplayDirectory); dir != "" {
		managerOpts = append(managerOpts, session.WithRecorderFactory(func(sessionID string) (session.Recorder, error) {
			writer, _, err := replay.NewWriter(dir, sessionID, time.Now)
			if err != nil {
				return nil, err
			}
			return writer, nil
		}))
		b.cleaner = replay.NewCleaner(dir, replay.RetentionPolicy{
			MaxFlights: cfg.ReplayMaxFlights,
			MaxAge:     cfg.ReplayMaxAge,
		}, logger.With(logging.Component("replay_cleaner")))
	}
	b.manager = session.NewManager(ground, managerOpts...)

	//3.- Controllers pass through validation and gating before reaching a session.
	hubOpts := []relay.Option{
		relay.WithLogger(logger.With(logging.Component("relay"))),
		relay.WithGate(input.NewGate(input.Config{
			MaxAge:      controllerMaxFrameAge,
			MinInterval: cfg.ControllerMinInterval,
		}, logger)),
		relay.WithValidator(input.NewValidator(input.DefaultConstraints, logger)),
		relay.WithPingInterval(cfg.PingInterval),
		relay.WithMaxPayload(cfg.MaxPayloadBytes),
		relay.WithMaxClients(cfg.MaxClients),
		relay.WithAllowedOrigins(cfg.AllowedOrigins),
	}
	if secret := strings.TrimSpace(cfg.PairingSecret); secret != "" {
		tokens, err := auth.NewPairingTokens(secret, pairingTokenTTL, pairingTokenLeeway)
		if err != nil {
			return nil, fmt.Errorf("configure pairing tokens: %w", err)
		}
		hubOpts = append(hubOpts, relay.WithPairing(tokens))
	}
	b.hub = relay.NewHub(b.manager, hubOpts...)
	b.bridge = newBrokerBridge(b.manager, b.hub)

	//4.- Route the realtime endpoints next to the operational API.
	b.mux = http.NewServeMux()
	b.mux.Handle("/ws", b.hub)
	b.mux.HandleFunc("/pair", b.hub.PairHandler())
	b.mux.HandleFunc("/controller", b.hub.ControllerPage())
	registerControlDocEndpoints(b.mux)
	world := scenery.DefaultOptions()
	world.Forest.DensityFrequency = cfg.ForestDensity
	b.mux.Handle("/api/world", scenery.NewServer(world, logger.With(logging.Component("scenery"))))
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:          logger.With(logging.Component("httpapi")),
		Readiness:       b,
		Stats:           b.RuntimeStats,
		Sessions:        b.bridge,
		Replay:          httpapi.ReplayDumperFunc(b.dumpReplays),
		ReplayDirectory: cfg.ReplayDirectory,
		AdminToken:      cfg.AdminToken,
		RateLimiter:     httpapi.NewSlidingWindowLimiter(cfg.ReplayDumpWindow, cfg.ReplayDumpBurst, nil),
	})
	handlers.Register(b.mux)
	return b, nil
}

// Handler returns the HTTP entry point wrapped in request tracing.
func (b *Broker) Handler() http.Handler {
	return logging.HTTPTraceMiddleware(b.log)(b.mux)
}

// Manager exposes the session manager.
func (b *Broker) Manager() *session.Manager { return b.manager }

// Hub exposes the relay hub.
func (b *Broker) Hub() *relay.Hub { return b.hub }

// Start launches the simulation loop, the state pusher and replay retention.
func (b *Broker) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.manager.Start(ctx)
	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		b.hub.Run(ctx)
	}()
	if b.cleaner != nil {
		b.workers.Add(1)
		go func() {
			defer b.workers.Done()
			b.cleaner.Run(ctx, replaySweepInterval)
		}()
	}
	b.log.Info("simulation started", logging.Float64("tick_hz", b.manager.TickRate()))
}

// Shutdown disconnects every client, stops the loop and closes open recordings.
func (b *Broker) Shutdown() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.hub.Close()
	b.workers.Wait()
	return b.manager.Stop()
}

// ClientCounts reports connected and pending WebSocket clients for readiness.
func (b *Broker) ClientCounts() (int, int) {
	stats := b.hub.Stats()
	return stats.Games + stats.Controllers, stats.Pending
}

// StartupError reports why the broker cannot serve races yet.
func (b *Broker) StartupError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startupErr != nil {
		return b.startupErr
	}
	if !b.manager.Running() {
		return errors.New("simulation loop is not running")
	}
	return nil
}

// Uptime returns how long the broker has been alive.
func (b *Broker) Uptime() time.Duration { return time.Since(b.started) }

func (b *Broker) setStartupError(err error) {
	b.mu.Lock()
	b.startupErr = err
	b.mu.Unlock()
}

// RuntimeStats gathers the counters rendered by the metrics endpoint.
func (b *Broker) RuntimeStats() httpapi.RuntimeStats {
	stats := httpapi.RuntimeStats{
		Sessions:        b.manager.Len(),
		SessionsCreated: b.manager.Created(),
		Relay:           b.hub.Stats(),
		Drops:           b.hub.Gate().Totals(),
		Tick:            b.manager.Monitor().Snapshot(),
	}
	if b.cleaner != nil {
		storage := b.cleaner.Stats()
		stats.Replay = &storage
	}
	return stats
}

func (b *Broker) dumpReplays(ctx context.Context) (string, error) {
	flushed, err := b.manager.FlushRecordings()
	if err != nil {
		return "", err
	}
	b.log.Info("flight recordings flushed", logging.Int("sessions", flushed))
	return b.cfg.ReplayDirectory, nil
}

var _ httpapi.ReadinessProvider = (*Broker)(nil)

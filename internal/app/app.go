package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"campuschat/internal/retention"
	"campuschat/pkg/chat"
	"campuschat/pkg/config"
	"campuschat/pkg/directory"
	"campuschat/pkg/fanout"
	"campuschat/pkg/models"
	"campuschat/pkg/progressor"
	"campuschat/pkg/relay"
	"campuschat/pkg/sensor"
	"campuschat/pkg/state"
	"campuschat/pkg/store"
	"campuschat/pkg/telemetry"
	"campuschat/pkg/typing"
	"campuschat/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	st      *store.Store
	hub     *fanout.Hub
	tracker *typing.Tracker
	svc     *chat.Service
	dir     *directory.Directory
	rl      *relay.Relay

	srv         *http.Server
	stopMonitor context.CancelFunc
	stopSweeper context.CancelFunc
}

// New initializes resources that do not require a running context (DB,
// validation rules, runtime keys, the fan-out hub and services). It does
// not start the relay or the HTTP server; call Run to start those and
// block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for _, k := range eff.Config.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	initValidation(eff)

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("state layout under %s: %w", eff.DBPath, err)
	}
	st, err := store.Open(state.PathsVar.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}
	if _, err := progressor.Run(context.Background(), st, version); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	telemetry.RegisterStorage(func() telemetry.StorageStats {
		s := st.Stats()
		return telemetry.StorageStats{DiskUsage: s.DiskUsage, MemtableSz: s.MemtableSz}
	})

	hub := fanout.NewHub()

	window := eff.Config.Chat.TypingWindow.Std()
	if window <= 0 {
		window = typing.DefaultWindow
	}
	tracker := typing.New(window, func(ts models.TypingState) {
		hub.Publish(ts.Thread, models.Event{Type: models.EventTyping, Thread: ts.Thread, Typing: &ts})
	})

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		st:        st,
		hub:       hub,
		tracker:   tracker,
		svc:       chat.New(st, hub, tracker.Set),
		dir:       directory.New(st),
	}
	return a, nil
}

// Run connects the relay (if configured) and starts the HTTP server, then
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	if url := a.eff.Config.Relay.NATSURL; url != "" {
		rl, err := relay.Connect(url, a.eff.Config.Relay.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		rl.Attach(a.hub)
		a.rl = rl
	}

	a.stopMonitor = sensor.StartStoreMonitor(ctx, a.st, sensor.DefaultMonitorConfig())
	stopRet, err := retention.Start(ctx, a.eff, a.st)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	a.stopSweeper = stopRet

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown stops the HTTP server, relay and store in dependency order.
func (a *App) shutdown() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.srv.Shutdown(ctx)
		cancel()
	}
	if a.stopSweeper != nil {
		a.stopSweeper()
	}
	if a.stopMonitor != nil {
		a.stopMonitor()
	}
	if a.rl != nil {
		a.rl.Close()
	}
	if a.st != nil {
		_ = a.st.Close()
	}
}

// initValidation builds content rules from config and sets them globally.
func initValidation(eff config.EffectiveConfigResult) {
	vr := validation.Rules{}
	if n := eff.Config.Chat.MaxContentLen; n > 0 {
		vr.MaxContentLen = n
	}
	validation.SetRules(vr)
}

// SPDX-License-Identifier: GPL-3.0-or-later

// Command trakbridge-core wires the streaming engine together from a
// static in-memory configuration snapshot: one demo stream fanning a
// synthetic location batch out to one TAK server. It exists to
// demonstrate the composition, not to replace the configuration
// collaborator that feeds a real deployment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emfoursolutions/trakbridge-core/internal/cot"
	"github.com/emfoursolutions/trakbridge-core/internal/cotservice"
	"github.com/emfoursolutions/trakbridge-core/internal/governor"
	"github.com/emfoursolutions/trakbridge-core/internal/manager"
	"github.com/emfoursolutions/trakbridge-core/internal/metrics"
	"github.com/emfoursolutions/trakbridge-core/internal/model"
	"github.com/emfoursolutions/trakbridge-core/internal/netpipe"
	"github.com/emfoursolutions/trakbridge-core/internal/provider"
)

// stopGrace bounds how long shutdown waits for workers to finish their
// in-flight ticks and for connections to drain their queues.
const stopGrace = 5 * time.Second

// demoProvider emits a fixed pair of locations each tick so the full
// pipeline can be observed without a real upstream account.
type demoProvider struct{}

// Metadata implements [provider.Client].
func (demoProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Kind:        "demo",
		DisplayName: "Demo static feed",
		Category:    "demo",
	}
}

// Fetch implements [provider.Client].
func (demoProvider) Fetch(ctx context.Context, session *http.Client, config map[string]any) ([]model.Location, error) {
	speed := 9.055
	course := 315.0
	return []model.Location{
		{
			UID:  "DEMO-1",
			Name: "Demo-1",
			Lat:  38.8977, Lon: -77.0365,
			AdditionalData: map[string]any{
				model.KeyTeamMemberEnabled: true,
				model.KeyTeamRole:          "Sniper",
				model.KeyTeamColor:         "Green",
			},
		},
		{
			UID:  "DEMO-2",
			Name: "Demo-2",
			Lat:  46.886493, Lon: 29.207861,
			Speed:  &speed,
			Course: &course,
		},
	}, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	host := "127.0.0.1"
	port := 8087
	if v := os.Getenv("TRAKBRIDGE_TAK_HOST"); v != "" {
		host = v
	}
	if v := os.Getenv("TRAKBRIDGE_TAK_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &port)
	}

	serverCfg := model.TakServerConfig{
		ID:             1,
		Host:           host,
		Port:           port,
		Protocol:       "tcp",
		QueueCapacity:  500,
		OverflowPolicy: model.OverflowDropOldest,
	}

	streamCfg := model.StreamConfig{
		ID:                1,
		Name:              "demo",
		ProviderKind:      "demo",
		PollInterval:      5 * time.Second,
		CotTypeDefault:    "a-f-G-F-U",
		CotStale:          300 * time.Second,
		AttachedServerIDs: []int{serverCfg.ID},
		CotTypeMode:       model.CotTypeModeStream,
		Active:            true,
		UnmappedFallback:  model.FallbackPassThrough,
	}

	m := metrics.New("")
	netCfg := netpipe.NewConfig()

	svc := cotservice.New(netCfg, m, logger)
	if _, err := svc.GetOrCreate(serverCfg); err != nil {
		logger.Info("connectionCreateFailed", "err", err)
		os.Exit(1)
	}

	gov := governor.New(governor.NewTunables(), m)
	session := provider.NewSharedHTTPClient(provider.NewTunables())

	mgr := manager.New(manager.Deps{
		Providers: func(kind string) (provider.Client, error) {
			if kind != "demo" {
				return nil, fmt.Errorf("unknown provider kind %q", kind)
			}
			return demoProvider{}, nil
		},
		HTTPSession: session,
		Encoder:     cot.NewEncoder(logger),
		Governor:    gov,
		Sinks:       svc.Sinks(),
		Metrics:     m,
		Logger:      logger,
	})
	mgr.LoadAll([]model.StreamConfig{streamCfg})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shuttingDown", "grace", stopGrace)
	mgr.StopAll(stopGrace)
	svc.CloseAll(stopGrace)
}

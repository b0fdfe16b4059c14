package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/roomlink/internal/adapters/gateway"
	router "github.com/dkeye/roomlink/internal/adapters/http"
	"github.com/dkeye/roomlink/internal/adapters/rtc"
	"github.com/dkeye/roomlink/internal/adapters/status"
	"github.com/dkeye/roomlink/internal/app"
	"github.com/dkeye/roomlink/internal/app/orch"
	"github.com/dkeye/roomlink/internal/config"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a videoroom, publish local media and subscribe to every feed",
		Args:  cobra.NoArgs,
		RunE:  runJoin,
	}
	flags := cmd.Flags()
	flags.String("plugin", "janus.plugin.videoroom", "gateway plugin to attach")
	flags.Uint64("room", 1234, "room number")
	flags.String("display", "", "display name announced to the room")
	flags.Bool("loopback", false, "echo our own offer and candidates back instead of sending them")
	flags.Bool("audio", true, "publish audio")
	flags.Bool("video", true, "publish video")
	flags.StringSlice("ice-servers", nil, "STUN/TURN urls")
	flags.String("status-addr", "127.0.0.1:8090", "listen address for the status API, empty to disable")
	flags.Duration("trickle-debounce", 0, "delay before trickle completion is sent")
	flags.Int("poll-max-retries", 3, "retries of a failed long poll before the session fails")
	flags.Duration("poll-backoff-initial", 0, "first long-poll retry delay")
	flags.Duration("poll-backoff-max", 0, "largest long-poll retry delay")
	return cmd
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

func orchConfig(cfg *config.Config, servers []webrtc.ICEServer) orch.Config {
	return orch.Config{
		Plugin:          cfg.Plugin,
		Room:            domain.RoomNumber(cfg.Room),
		Audio:           cfg.Audio,
		Video:           cfg.Video,
		Loopback:        cfg.Loopback,
		ICEServers:      servers,
		RequestTimeout:  cfg.RequestTimeout,
		TrickleDebounce: cfg.TrickleDebounce,
		Poll: app.PollConfig{
			MaxRetries:     cfg.PollMaxRetries,
			BackoffInitial: cfg.PollBackoffInitial,
			BackoffMax:     cfg.PollBackoffMax,
		},
	}
}

func runJoin(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	participant, err := domain.NewParticipant(cfg.Display)
	if err != nil {
		return err
	}
	gw, err := gateway.New(cfg.GatewayURL, cfg.RequestTimeout, cfg.LongPollTimeout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	servers := iceServers(cfg.ICEServers)
	engine := rtc.NewEngine(ctx, rtc.Config{ICEServers: servers, SignalTimeout: cfg.RequestTimeout})

	var client *orch.Orchestrator
	hub := status.NewHub(nil, func(ctx context.Context) (core.Snapshot, error) {
		return client.Snapshot(ctx)
	})
	client = orch.New(gw, engine, hub, participant, orchConfig(cfg, servers))
	engine.Bind(client)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := client.Connect(gctx); err != nil {
			client.Close()
			engine.Close()
			return err
		}
		select {
		case <-gctx.Done():
		case <-client.Closed():
		}
		client.Close()
		engine.Close()
		log.Info().Msg("client stopped")
		return nil
	})

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:    cfg.StatusAddr,
			Handler: router.SetupRouter(gctx, cfg, client, hub, engine),
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status API started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("status API forced to shutdown")
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info().Msg("roomlink exited")
	return err
}

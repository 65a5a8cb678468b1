package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/brainrot"
	"github.com/danmuck/brainrot/internal/auth"
	"github.com/danmuck/brainrot/internal/config"
	"github.com/danmuck/brainrot/internal/logging"
	"github.com/danmuck/brainrot/internal/observability"
	"github.com/danmuck/brainrot/internal/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const quitReason = "brainrot shutting down"

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the configured server and log events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			settings, err := config.Load(path)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") && settings.LogLevel != "" {
				if !logging.SetLevel(settings.LogLevel) {
					return fmt.Errorf("unknown log level %q in %s", settings.LogLevel, path)
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings)
		},
	}
	cmd.Flags().StringP("config", "c", "brainrot.toml", "path to a .toml or .yaml config file")
	return cmd
}

// run owns one client for the life of ctx. Cancelling ctx sends QUIT and
// waits for the supervisor to end.
func run(ctx context.Context, settings config.Settings) error {
	var pub *relay.Publisher
	if settings.Relay.Enabled() {
		p, err := relay.New(settings.Relay.Addr, settings.Relay.Password, settings.Relay.DB, settings.Relay.Channel)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			_ = p.Close()
			return fmt.Errorf("relay %s: %w", settings.Relay.Addr, err)
		}
		defer p.Close()
		pub = p
	}

	client, err := brainrot.Connect(context.Background(), settings.Endpoint, settings.Credentials, settings.Client)
	if err != nil {
		return err
	}
	log.Info().Str("client", client.String()).Msg("brainrotctl.run connecting")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	var relayStream *brainrot.Subscription
	if pub != nil {
		relayStream = client.Subscribe()
	}

	g.Go(func() error {
		return logEvents(client.Events())
	})
	if settings.AdminAddr != "" {
		admin := observability.NewAdmin(settings.AdminAddr, client, settings.CorsOrigins)
		if settings.AdminToken != "" {
			admin.RequireToken(auth.StaticToken{Token: settings.AdminToken})
		}
		g.Go(func() error {
			return admin.Serve(gctx)
		})
	}
	if pub != nil {
		g.Go(func() error {
			return pub.Run(gctx, relayStream, client.Snapshot)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			client.Disconnect(quitReason)
		case <-client.Done():
		}
		return nil
	})

	waitErr := client.Wait()
	if waitErr != nil {
		log.Error().Err(waitErr).Msg("brainrotctl.run client ended")
	}
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return waitErr
}

func logEvents(sub *brainrot.Subscription) error {
	for {
		env, err := sub.Next(context.Background())
		if err != nil {
			var overflow *brainrot.OverflowError
			if errors.As(err, &overflow) {
				log.Warn().Uint64("dropped", overflow.Dropped).Msg("brainrotctl.logEvents consumer overflow")
				continue
			}
			if errors.Is(err, brainrot.ErrClosed) {
				return nil
			}
			log.Debug().Err(err).Msg("brainrotctl.logEvents stream ended")
			return nil
		}
		log.Info().
			Str("session", env.SessionID).
			Uint64("seq", env.Seq).
			Str("kind", string(env.Event.Kind())).
			Interface("event", env.Event).
			Msg("brainrotctl.event")
	}
}

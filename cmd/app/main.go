package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/tokengate/internal/app"
)

func main() {
	cmd := &cli.Command{
		Name:  "tokengate",
		Usage: "Zero-trust token validation and tenant isolation gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: ":8080",
				Usage: "HTTP listen address",
			},
			&cli.StringFlag{
				Name:  "db-path",
				Value: "./tokengate.sqlite",
				Usage: "SQLite file path for the credential store",
			},
			&cli.StringFlag{
				Name:    "rate-counter",
				Value:   "sqlite",
				Sources: cli.EnvVars("TOKENGATE_RATE_COUNTER"),
				Usage:   "Rate counter backend: sqlite or memory",
			},
			&cli.StringFlag{
				Name:    "limits-file",
				Sources: cli.EnvVars("TOKENGATE_LIMITS_FILE"),
				Usage:   "JSON file with per-token-type rate limits (schema validated)",
			},
			&cli.StringFlag{
				Name:    "bootstrap-token",
				Sources: cli.EnvVars("TOKENGATE_BOOTSTRAP_TOKEN"),
				Usage:   "Optional bearer token to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-token-id",
				Value:   "bootstrap",
				Sources: cli.EnvVars("TOKENGATE_BOOTSTRAP_TOKEN_ID"),
				Usage:   "Business key for the bootstrap token",
			},
			&cli.StringFlag{
				Name:    "bootstrap-tenant",
				Value:   "default",
				Sources: cli.EnvVars("TOKENGATE_BOOTSTRAP_TENANT"),
				Usage:   "Owning tenant for the bootstrap token",
			},
			&cli.StringFlag{
				Name:    "bootstrap-type",
				Value:   "api_key",
				Sources: cli.EnvVars("TOKENGATE_BOOTSTRAP_TYPE"),
				Usage:   "Bootstrap token type: api_key, production or session",
			},
			&cli.StringSliceFlag{
				Name:    "bootstrap-scope",
				Sources: cli.EnvVars("TOKENGATE_BOOTSTRAP_SCOPES"),
				Usage:   "Capability granted to the bootstrap token (repeatable)",
			},
			&cli.DurationFlag{
				Name:    "bootstrap-ttl",
				Value:   24 * time.Hour,
				Sources: cli.EnvVars("TOKENGATE_BOOTSTRAP_TTL"),
				Usage:   "Lifetime of the bootstrap token",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("TOKENGATE_WEBHOOK_URL"),
				Usage:   "Security alert webhook target URL (pager bridge, SIEM collector)",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("TOKENGATE_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound alert webhooks",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := app.Config{
				Addr:             c.String("addr"),
				DBPath:           c.String("db-path"),
				RateCounter:      c.String("rate-counter"),
				LimitsFile:       c.String("limits-file"),
				BootstrapToken:   c.String("bootstrap-token"),
				BootstrapTokenID: c.String("bootstrap-token-id"),
				BootstrapTenant:  c.String("bootstrap-tenant"),
				BootstrapType:    c.String("bootstrap-type"),
				BootstrapScopes:  c.StringSlice("bootstrap-scope"),
				BootstrapTTL:     c.Duration("bootstrap-ttl"),
				WebhookURL:       c.String("webhook-url"),
				WebhookSecret:    c.String("webhook-secret"),
			}

			server, closer, err := app.NewServer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.Printf("close resources: %v", closeErr)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.Printf("listening on %s", cfg.Addr)
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				log.Printf("received signal %s", sig)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

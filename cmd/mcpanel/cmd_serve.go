package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TheGojiOG/mcpanel/internal/api"
	"github.com/TheGojiOG/mcpanel/internal/api/handlers"
	"github.com/TheGojiOG/mcpanel/internal/auth"
	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/metrics"
	"github.com/TheGojiOG/mcpanel/internal/schedule"
	"github.com/TheGojiOG/mcpanel/internal/tlscert"
	"github.com/TheGojiOG/mcpanel/internal/websocket"
)

const (
	shutdownTimeout   = 30 * time.Second
	activityRetention = 90 * 24 * time.Hour
	selfSignedTTL     = 365 * 24 * time.Hour
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg
			if cmd.Flags().Changed("host") {
				cfg.API.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port = port
			}
			if cfg.API.Secret == "" {
				return errors.New("api secret is not set; set api.secret or MCPANEL_API_SECRET")
			}
			jwtManager, err := auth.NewJWTManager(cfg.API.Secret, cfg.API.TokenTTL)
			if err != nil {
				return err
			}

			if n, err := a.activity.CleanupOldActivities(activityRetention); err != nil {
				log.Printf("[Serve] Failed to prune activity log: %v", err)
			} else if n > 0 {
				log.Printf("[Serve] Pruned %d old activity entries", n)
			}

			backups, err := a.backups()
			if err != nil {
				return err
			}
			collector := metrics.NewCollector(cfg.Metrics, a.ctl, a.db.DB)

			scheduler := schedule.New(a.ctl, a.ctl.StatusStore(), a.activity)
			scheduler.SetBackups(backups)
			if err := scheduler.Load(cfg.Schedules); err != nil {
				return fmt.Errorf("failed to load schedules: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			hub := websocket.NewHub(handlers.LogSource(a.ctl))
			go hub.Run(ctx)

			srv := &http.Server{
				Addr:         net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
				Handler:      api.SetupRouter(cfg, a.ctl, jwtManager, hub, api.Services{Backups: backups, Metrics: collector}),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			if err := prepareTLS(cfg.API); err != nil {
				return err
			}

			scheduler.Start()
			collector.Start()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				if cfg.API.TLS.Enabled {
					log.Printf("[Serve] Listening on %s (TLS)", srv.Addr)
					err = srv.ListenAndServeTLS(cfg.API.TLS.CertFile, cfg.API.TLS.KeyFile)
				} else {
					log.Printf("[Serve] Listening on %s", srv.Addr)
					err = srv.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Println("[Serve] Shutting down...")

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer shutdownCancel()

				var errs []error
				if err := scheduler.Stop(shutdownCtx); err != nil {
					errs = append(errs, fmt.Errorf("scheduler: %w", err))
				}
				collector.Stop()
				cancel()
				select {
				case <-hub.Done():
				case <-shutdownCtx.Done():
				}
				if err := srv.Shutdown(shutdownCtx); err != nil {
					errs = append(errs, fmt.Errorf("http shutdown: %w", err))
				}
				return errors.Join(errs...)
			})

			err = g.Wait()
			log.Println("[Serve] Server exited")
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")
	return cmd
}

// prepareTLS issues or renews the self-signed certificate when one is
// configured. Operator supplied certificates are used as they are.
func prepareTLS(cfg config.APIConfig) error {
	if !cfg.TLS.Enabled || !cfg.TLS.SelfSigned {
		return nil
	}
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if cfg.Host != "" && cfg.Host != "0.0.0.0" && cfg.Host != "::" {
		hosts = append(hosts, cfg.Host)
	}
	issued, err := tlscert.EnsureSelfSigned(cfg.TLS.CertFile, cfg.TLS.KeyFile, hosts, selfSignedTTL)
	if err != nil {
		return fmt.Errorf("failed to prepare TLS certificate: %w", err)
	}
	if issued.Created {
		log.Printf("[Serve] Issued self-signed certificate %s (expires %s)", issued.Fingerprint, issued.NotAfter.Format(time.DateOnly))
	} else {
		log.Printf("[Serve] Using certificate %s", issued.Fingerprint)
	}
	return nil
}

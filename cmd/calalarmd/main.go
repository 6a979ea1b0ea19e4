// calalarmd is the calendar alarm scheduler daemon: it keeps the durable
// alarm database and fires due alarms by publishing events, either in a
// single pass (sweep) or on a periodic schedule (run).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mistakeknot/calalarmd/internal/auth"
	"github.com/mistakeknot/calalarmd/internal/blob"
	"github.com/mistakeknot/calalarmd/internal/bus"
	"github.com/mistakeknot/calalarmd/internal/cli"
	"github.com/mistakeknot/calalarmd/internal/config"
	calhttp "github.com/mistakeknot/calalarmd/internal/http"
	"github.com/mistakeknot/calalarmd/internal/logger"
	"github.com/mistakeknot/calalarmd/internal/mailbox"
	"github.com/mistakeknot/calalarmd/internal/server"
	"github.com/mistakeknot/calalarmd/internal/storage/sqlite"
	"github.com/mistakeknot/calalarmd/internal/sweep"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "calalarmd",
	Short: "Durable calendar alarm scheduler",
	Long: `calalarmd computes, persists and fires the next notification time for
calendar items carrying alarm triggers, including recurring events and
overridden recurrence instances. State lives in a SQLite database guarded
by a cross-process advisory lock, so exactly one scheduler mutates it per
deployment.`,
	SilenceUsage: true,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one alarm sweep pass and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, engine, cleanup, err := buildEngine(nil)
		if err != nil {
			return err
		}
		defer cleanup()
		return engine.Run(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep periodically until interrupted",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		feed := bus.NewFeed()
		cfg, engine, cleanup, err := buildEngine(feed)
		if err != nil {
			return err
		}
		defer cleanup()

		log := logger.Named("main")

		var srv *server.Server
		if cfg.Bus.FeedAddr != "" {
			var mw func(http.Handler) http.Handler
			if cfg.Bus.TokensFile != "" {
				ring, err := auth.LoadRing(cfg.Bus.TokensFile)
				if err != nil {
					return err
				}
				mw = auth.Middleware(ring)
			}
			router := calhttp.NewRouter(
				calhttp.NewService(sqlite.Dir{Path: cfg.DataDir}),
				feed.Handler(),
				mw,
			)
			srv, err = server.New(server.Config{
				Addr:       cfg.Bus.FeedAddr,
				SocketPath: cfg.Bus.FeedSocket,
				Handler:    router,
			})
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					log.Errorw("feed server", "error", err)
				}
			}()
			log.Infow("alarm feed listening", "addr", cfg.Bus.FeedAddr)
		}

		c := cron.New()
		if _, err := c.AddFunc(cfg.Sweep.Schedule, func() {
			if err := engine.Run(ctx); err != nil {
				log.Errorw("sweep pass", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("parse sweep schedule %q: %w", cfg.Sweep.Schedule, err)
		}

		// Startup pass before the first tick.
		if err := engine.Run(ctx); err != nil {
			log.Errorw("startup sweep", "error", err)
		}

		c.Start()
		log.Infow("scheduler running", "schedule", cfg.Sweep.Schedule)

		<-ctx.Done()
		<-c.Stop().Done()
		if srv != nil {
			srv.Shutdown(context.Background())
		}
		return nil
	},
}

var (
	initTokensFor string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration and mint a feed token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath
		if path == "" {
			path = config.ResolvePath()
		}
		if err := cli.InitConfigFile(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)

		if initTokensFor != "" {
			token, err := cli.InitTokenFile(auth.ResolveTokensPath(), initTokensFor)
			if err != nil {
				return err
			}
			fmt.Printf("feed token for %s: %s\n", initTokensFor, token)
		}
		return nil
	},
}

var (
	purgeMailbox  string
	purgeResource string
	purgeUser     string
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete pending alarms by item, mailbox or user",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := sqlite.Dir{Path: cfg.DataDir}.Open()
		if err != nil {
			return err
		}
		defer db.Close()

		switch {
		case purgeMailbox != "" && purgeResource != "":
			return db.DeleteByItem(purgeMailbox, purgeResource)
		case purgeMailbox != "":
			return db.DeleteByMailbox(purgeMailbox)
		case purgeUser != "":
			return db.DeleteByUserPrefix(purgeUser)
		default:
			return fmt.Errorf("purge: one of --mailbox, --mailbox with --resource, or --user is required")
		}
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if lvl, ok := logger.ParseLevel(cfg.LogLevel); ok {
		logger.SetLevel(lvl)
	}
	return cfg, nil
}

// buildEngine wires the sweep engine from configuration. feed may be nil
// when no websocket feed is served.
func buildEngine(feed *bus.Feed) (*config.Config, *sweep.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	var blobs blob.Store
	if cfg.Mailbox.Bodies == "object" {
		blobs, err = blob.NewObjectStore(context.Background(), blob.ObjectStoreOptions{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return nil, nil, nil, err
		}
	}
	mailboxes := mailbox.NewFileStore(cfg.Mailbox.Root, blobs)

	publishers := bus.Multi{bus.NewLogPublisher()}
	cleanup := func() {}
	if cfg.Bus.NATSURL != "" {
		np, err := bus.NewNATSPublisher(cfg.Bus.NATSURL, cfg.Bus.Subject)
		if err != nil {
			return nil, nil, nil, err
		}
		publishers = append(publishers, np)
		cleanup = np.Close
	}
	if feed != nil {
		publishers = append(publishers, feed)
	}

	engine := sweep.New(sqlite.Dir{Path: cfg.DataDir}, mailboxes, publishers, sweep.Config{
		Lookahead: cfg.Sweep.Lookahead,
		Horizon:   cfg.Sweep.Horizon,
	})
	return cfg, engine, cleanup, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	purgeCmd.Flags().StringVar(&purgeMailbox, "mailbox", "", "mailbox id")
	purgeCmd.Flags().StringVar(&purgeResource, "resource", "", "resource name within --mailbox")
	purgeCmd.Flags().StringVar(&purgeUser, "user", "", "user id (purges every mailbox under user.<id>.)")
	initCmd.Flags().StringVar(&initTokensFor, "token-for", "", "also mint a feed token for the named subscriber")
	rootCmd.AddCommand(initCmd, sweepCmd, runCmd, purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

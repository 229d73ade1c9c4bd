package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"academycal/internal/calendar"
	"academycal/internal/config"
	"academycal/internal/ics"
	appLog "academycal/internal/log"
	"academycal/internal/model"
	"academycal/internal/scheduler"
	"academycal/internal/store"
	"academycal/internal/store/mongostore"
	"academycal/internal/store/pgstore"
	"academycal/internal/web"
)

const version = "0.1.0"

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "academycal",
		Usage:   "Academy calendar with recurring events, an HTTP API and an ICS feed.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./academycal.yaml", Usage: "Path to config file", EnvVars: []string{"ACADEMYCAL_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (overrides config)"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			exportCommand(),
			importCommand(),
			templatesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("academycal failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies the environment and the global
// flags, and configures logging.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	conf, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		conf.Log.Level = lvl
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	appLog.Configure(conf.Log.Level, conf.Log.Format)
	return conf, nil
}

// openStore connects and migrates the configured backend.
func openStore(ctx context.Context, conf *config.Config) (store.Store, error) {
	switch conf.Store.Driver {
	case config.DriverPostgres:
		pc := conf.Store.Postgres
		db, err := pgstore.Open(ctx, pgstore.Config{
			Host:     pc.Host,
			Port:     pc.Port,
			User:     pc.User,
			Password: pc.Password,
			Name:     pc.Name,
			SSLMode:  pc.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		st := pgstore.New(db)
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil

	case config.DriverMongo:
		mc := conf.Store.Mongo
		st, err := mongostore.Open(ctx, mongostore.Config{
			URI:        mc.URI,
			Database:   mc.Database,
			Collection: mc.Collection,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil

	default:
		appLog.Warn("using in-memory store; events are lost on exit")
		return store.NewMemoryStore(), nil
	}
}

func newService(conf *config.Config, st store.Store) *calendar.Service {
	return calendar.New(st, calendar.Options{
		Location:              conf.Location(),
		EventTimezone:         conf.EventTimezone,
		UpcomingHorizonMonths: conf.Upcoming.HorizonMonths,
		Linker:                calendar.ZoomPlaceholder{BaseURL: conf.Meeting.ZoomBaseURL},
	})
}

// withService loads config, opens the store and runs fn with a service.
func withService(c *cli.Context, fn func(ctx context.Context, conf *config.Config, svc *calendar.Service) error) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	st, err := openStore(ctx, conf)
	if err != nil {
		return fmt.Errorf("open %s store: %w", conf.Store.Driver, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("store close failed", err)
		}
	}()

	return fn(ctx, conf, newService(conf, st))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API and refresh the ICS feed on schedule.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
		},
		Action: func(c *cli.Context) error {
			return withService(c, func(ctx context.Context, conf *config.Config, svc *calendar.Service) error {
				if l := c.String("listen"); l != "" {
					conf.Listen = l
				}
				appLog.Info("effective config",
					"version", version,
					"listen", conf.Listen,
					"timezone", conf.Timezone,
					"store", conf.Store.Driver,
					"feed_path", conf.Feed.Path,
					"feed_refresh", conf.Feed.Refresh,
				)

				sched := scheduler.New(svc, conf.Feed)
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer sched.Stop()

				err := web.NewServer(conf, svc).ListenAndServe(ctx)
				appLog.Info("academycal exiting")
				return err
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the ICS feed once.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "Output file (default feed.path, or stdout when unset)"},
			&cli.BoolFlag{Name: "rules", Usage: "Write recurring events as RRULE parents even if feed.expand is set"},
		},
		Action: func(c *cli.Context) error {
			return withService(c, func(ctx context.Context, conf *config.Config, svc *calendar.Service) error {
				feed := conf.Feed
				if out := c.String("out"); out != "" {
					feed.Path = out
				}
				if c.Bool("rules") {
					feed.Expand = false
				}
				if feed.Path != "" {
					return scheduler.New(svc, feed).RunOnce(ctx)
				}

				now := time.Now().UTC()
				start, end := feed.Window(now)
				body, err := ics.Export(ctx, svc, ics.FeedOptions{
					Name:        feed.Name,
					Expand:      feed.Expand,
					WindowStart: start,
					WindowEnd:   end,
					Now:         now,
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(c.App.Writer, body)
				return err
			})
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Create events from an ICS file or URL.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "ICS file to import"},
			&cli.StringFlag{Name: "url", Usage: "ICS feed URL to import"},
			&cli.StringFlag{Name: "admin", Required: true, Usage: "Admin id recorded as creator"},
			&cli.StringFlag{Name: "event-type", Value: string(model.EventTypeWorkshop), Usage: "Event type for VEVENTs without one"},
			&cli.StringFlag{Name: "cache-dir", Value: "./var/ics-cache", Usage: "Cache directory for fetched feeds"},
		},
		Action: func(c *cli.Context) error {
			file, url := c.String("file"), c.String("url")
			if (file == "") == (url == "") {
				return errors.New("exactly one of --file or --url is required")
			}

			return withService(c, func(ctx context.Context, conf *config.Config, svc *calendar.Service) error {
				var body []byte
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					body = data
				} else {
					res, err := ics.NewFetcher(c.String("cache-dir")).Fetch(ctx, ics.Source{ID: "import", URL: url})
					if err != nil {
						return err
					}
					body = res.Body
				}

				n, err := ics.Import(ctx, svc, body, ics.ImportOptions{
					EventType: model.EventType(c.String("event-type")),
					Timezone:  conf.EventTimezone,
				}, c.String("admin"))
				if err != nil {
					return fmt.Errorf("imported %d events before failing: %w", n, err)
				}
				appLog.Info("import completed", "created", n)
				return nil
			})
		},
	}
}

func templatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "Print the named event templates as YAML.",
		Action: func(c *cli.Context) error {
			out, err := yaml.Marshal(model.Templates())
			if err != nil {
				return err
			}
			_, err = c.App.Writer.Write(out)
			return err
		},
	}
}

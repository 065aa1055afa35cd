package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/peerconf/internal/application"
	"github.com/eugenenazirov/peerconf/internal/config"
	"github.com/eugenenazirov/peerconf/internal/logging"
	"github.com/eugenenazirov/peerconf/internal/scripts"
	"github.com/eugenenazirov/peerconf/internal/settings"
)

var signalNotify = signal.Notify

type cli struct {
	app *kingpin.Application

	configFile *string
	configDir  *string
	scriptsDir *string
	logLevel   *string

	serve          *kingpin.CmdClause
	port           *string
	skipScripts    *bool
	rateLimitRPS   *float64
	rateLimitBurst *int

	settingsList *kingpin.CmdClause
	settingsGet  *kingpin.CmdClause
	settingName  *string
	showOrigin   *bool

	scriptsRun *kingpin.CmdClause

	checkRedis   *kingpin.CmdClause
	redisTimeout *time.Duration
}

func newCLI() *cli {
	c := &cli{app: kingpin.New("peerconf", "Layered configuration resolution and startup seeding for Peering Manager deployments")}
	c.app.HelpFlag.Short('h')

	c.configFile = c.app.Flag("config", "Path to YAML bootstrap configuration file").String()
	c.configDir = c.app.Flag("config-dir", "Directory holding configuration sources").String()
	c.scriptsDir = c.app.Flag("scripts-dir", "Directory holding startup scripts").String()
	c.logLevel = c.app.Flag("log-level", "Log level (debug, info, warn, error)").String()

	c.serve = c.app.Command("serve", "Run startup scripts and serve the introspection API").Default()
	c.port = c.serve.Flag("port", "HTTP port exposed by the service").String()
	c.skipScripts = c.serve.Flag("skip-startup-scripts", "Do not run startup scripts before serving").Bool()
	c.rateLimitRPS = c.serve.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	c.rateLimitBurst = c.serve.Flag("rate-limit-burst", "Burst capacity for rate limiter").Default("-1").Int()

	settingsCmd := c.app.Command("settings", "Inspect resolved settings")
	c.settingsList = settingsCmd.Command("list", "List every defined setting and the source it comes from")
	c.settingsGet = settingsCmd.Command("get", "Print the resolved value of a setting as YAML")
	c.settingName = c.settingsGet.Arg("name", "Setting name, e.g. SECRET_KEY").Required().String()
	c.showOrigin = c.settingsGet.Flag("origin", "Also print the winning and shadowed sources").Bool()

	scriptsCmd := c.app.Command("scripts", "Manage startup scripts")
	c.scriptsRun = scriptsCmd.Command("run", "Run startup scripts once and print the report")

	checkCmd := c.app.Command("check", "Check connectivity to configured services")
	c.checkRedis = checkCmd.Command("redis", "Ping the tasks and caching Redis servers")
	c.redisTimeout = c.checkRedis.Flag("timeout", "Timeout per server").Default("5s").Duration()

	return c
}

func (c *cli) overrides() *config.CLIOverrides {
	return &config.CLIOverrides{
		ConfigFile:         *c.configFile,
		ConfigDir:          c.configDir,
		ScriptsDir:         c.scriptsDir,
		Port:               c.port,
		LogLevel:           c.logLevel,
		SkipStartupScripts: c.skipScripts,
		RateLimitRPS:       c.rateLimitRPS,
		RateLimitBurst:     c.rateLimitBurst,
	}
}

func main() {
	c := newCLI()
	command := kingpin.MustParse(c.app.Parse(os.Args[1:]))

	err := c.run(context.Background(), command, os.Stdout)
	c.app.FatalIfError(err, "%s", command)
}

func (c *cli) run(ctx context.Context, command string, stdout io.Writer) error {
	cfg, err := config.Load(nil, c.overrides())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case c.serve.FullCommand():
		return serve(ctx, cfg, logger)
	case c.settingsList.FullCommand():
		return listSettings(cfg, logger, stdout)
	case c.settingsGet.FullCommand():
		return getSetting(cfg, logger, stdout, *c.settingName, *c.showOrigin)
	case c.scriptsRun.FullCommand():
		return runScripts(ctx, cfg, logger, stdout)
	case c.checkRedis.FullCommand():
		return checkRedis(ctx, cfg, logger, stdout, *c.redisTimeout)
	}
	return fmt.Errorf("unknown command %q", command)
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	app, err := application.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		_ = app.Close()
	}()

	if _, err := app.RunStartupScripts(ctx); err != nil {
		return err
	}

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdown(app.Server(), app.Facade().Chain().Paths(), cfg.ShutdownGracePeriod, logger)
	return nil
}

func listSettings(cfg config.Config, logger *zap.Logger, stdout io.Writer) error {
	facade, err := application.LoadFacade(cfg, logger, nil, nil)
	if err != nil {
		return err
	}

	table := newTable(stdout, "Name", "Origin")
	for _, name := range facade.Names() {
		origin, err := facade.Origin(name)
		if err != nil {
			return err
		}
		if err := table.Append([]string{name, origin}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return table.Render()
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(headers),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(headers), tw.AlignLeft)),
	)
	return table
}

type settingView struct {
	Name     string   `yaml:"name"`
	Origin   string   `yaml:"origin"`
	Shadowed []string `yaml:"shadowed,omitempty"`
	Value    any      `yaml:"value"`
}

func getSetting(cfg config.Config, logger *zap.Logger, stdout io.Writer, name string, withOrigin bool) error {
	facade, err := application.LoadFacade(cfg, logger, nil, nil)
	if err != nil {
		return err
	}

	value, err := facade.Get(name)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	defer enc.Close()

	if !withOrigin {
		return enc.Encode(value)
	}
	origin, err := facade.Origin(name)
	if err != nil {
		return err
	}
	return enc.Encode(settingView{
		Name:     name,
		Origin:   origin,
		Shadowed: facade.Shadowed(name),
		Value:    value,
	})
}

func runScripts(ctx context.Context, cfg config.Config, logger *zap.Logger, stdout io.Writer) error {
	cfg.SkipStartupScripts = false
	app, err := application.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		_ = app.Close()
	}()

	report, runErr := app.RunStartupScripts(ctx)
	if err := printReport(stdout, report); err != nil {
		return err
	}
	return runErr
}

func printReport(w io.Writer, report scripts.Report) error {
	table := newTable(w, "Script", "Kind", "State", "Duration", "Error")
	for _, res := range report.Results {
		row := []string{res.Name, res.Kind, string(res.State), res.Duration.Round(time.Millisecond).String(), res.Error}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return table.Render()
}

func checkRedis(ctx context.Context, cfg config.Config, logger *zap.Logger, stdout io.Writer, timeout time.Duration) error {
	facade, err := application.LoadFacade(cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	s, err := settings.Load(facade)
	if err != nil {
		return err
	}

	var failed []error
	for _, role := range []struct {
		name string
		conn settings.RedisConn
	}{
		{"tasks", s.Redis.Tasks},
		{"caching", s.Redis.Caching},
	} {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := role.conn.Ping(pingCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(stdout, "%s: FAILED (%v)\n", role.name, err)
			failed = append(failed, fmt.Errorf("%s: %w", role.name, err))
			continue
		}
		fmt.Fprintf(stdout, "%s: ok\n", role.name)
	}
	if len(failed) > 0 {
		return fmt.Errorf("redis check failed: %w", errors.Join(failed...))
	}
	return nil
}

// shutdown blocks until a termination signal, then drains the introspection
// server. sources is logged so the operator can tell which configuration the
// stopping instance served.
func shutdown(server *http.Server, sources []string, grace time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("stopping introspection server",
		zap.Stringer("signal", sig),
		zap.Strings("config_sources", sources),
		zap.Duration("grace_period", grace),
	)

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("introspection server did not drain within grace period", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close of introspection server failed", zap.Error(closeErr))
		}
	}
}

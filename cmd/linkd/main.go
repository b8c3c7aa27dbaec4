package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tellolink/pkg/bridge/foxglove"
	"tellolink/pkg/config"
	"tellolink/pkg/engine"
	"tellolink/pkg/link"
	"tellolink/pkg/logger"
	"tellolink/pkg/protocol"
	"tellolink/pkg/sim"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		return runServe([]string{}, stdout, stderr)
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], stdout, stderr)
	case "pilot":
		return runPilot(args[1:], stdout, stderr)
	case "mock":
		return runMock(args[1:], stdout, stderr)
	case "config":
		return runConfig(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return 2
	}
}

type commonFlags struct {
	configPath *string
	logLevel   *string
	vehicle    *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", config.DefaultConfigPath, "config file path"),
		logLevel:   fs.String("log-level", "", "override log.level"),
		vehicle:    fs.String("vehicle", "", "override link.vehicle_addr"),
	}
}

// load reads the config file, tolerating its absence, and applies overrides.
func (f commonFlags) load() (config.Config, error) {
	cfg, _, err := config.LoadOrDefault(*f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if *f.logLevel != "" {
		cfg.Log.Level = *f.logLevel
	}
	if *f.vehicle != "" {
		cfg.Link.VehicleAddr = *f.vehicle
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// session is a link wired to the hub and its consumers.
type session struct {
	cfg      config.Config
	log      *zap.Logger
	closeLog func() error
	hub      *engine.Hub
	link     *link.Link
	cancel   context.CancelFunc
}

func openSession(cfg config.Config, console io.Writer) (*session, error) {
	log, closeLog, err := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: console,
	})
	if err != nil {
		return nil, err
	}

	linkCfg, err := cfg.LinkConfig()
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := engine.NewHub()
	go hub.Run(ctx)

	if cfg.Log.Traffic {
		tap := logger.NewTap(log, logger.WithControl(cfg.Log.Control))
		go tap.Consume(ctx, hub.Subscribe())
	}

	if cfg.Bridge.Enabled {
		srv := foxglove.NewServer(bridgeConfig(cfg), hub, foxglove.WithLogger(log))
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("foxglove bridge stopped", zap.Error(err))
			}
		}()
	}

	l, err := link.New(linkCfg,
		link.WithLogger(log),
		link.WithObserver(func(pkt protocol.Packet) { hub.Publish(pkt) }),
		link.WithEventBuffer(cfg.Link.EventBuffer),
	)
	if err != nil {
		cancel()
		_ = closeLog()
		return nil, err
	}

	return &session{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		hub:      hub,
		link:     l,
		cancel:   cancel,
	}, nil
}

// shutdown lands the vehicle if the link is up, then releases everything.
func (s *session) shutdown() {
	grace, _ := s.cfg.HaltGrace()
	land(s.link, grace, s.log)
	if err := s.link.Close(); err != nil {
		s.log.Warn("closing link", zap.Error(err))
	}
	s.cancel()
	_ = s.closeLog()
}

// land halts l and waits up to grace for the landing ack to close it.
func land(l haltCloser, grace time.Duration, log *zap.Logger) {
	if !l.Halt() {
		return
	}
	select {
	case <-l.Done():
	case <-time.After(grace):
		log.Warn("landing not acknowledged, closing anyway", zap.Duration("grace", grace))
	}
}

type haltCloser interface {
	Halt() bool
	Done() <-chan struct{}
}

func bridgeConfig(cfg config.Config) foxglove.Config {
	out := foxglove.DefaultConfig()
	out.WSAddr = cfg.Bridge.WSAddr
	out.LogName = cfg.Bridge.LogName
	out.Telemetry.Topic = cfg.Bridge.TelemetryTopic
	out.Ack.Topic = cfg.Bridge.AckTopic
	out.Command.Topic = cfg.Bridge.CommandTopic
	return out
}

func runServe(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	sess, err := openSession(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer sess.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.link.Initialize(ctx); err != nil {
		sess.log.Error("link initialization failed", zap.Error(err))
		return 1
	}
	fmt.Fprintf(stdout, "link connected to %s (session %s)\n", cfg.Link.VehicleAddr, sess.link.ID())

	select {
	case <-ctx.Done():
		sess.log.Info("interrupted, landing")
		return 0
	case <-sess.link.Done():
		if err := sess.link.Err(); err != nil {
			sess.log.Error("link closed", zap.Error(err))
			return 1
		}
		return 0
	}
}

func runPilot(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("pilot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	step := fs.Int("step", 30, "control increment per key press")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	// The TUI owns the terminal; logs only go to the configured file.
	sess, err := openSession(cfg, io.Discard)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer sess.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(stdout, "connecting to", cfg.Link.VehicleAddr, "...")
	if err := sess.link.Initialize(ctx); err != nil {
		fmt.Fprintln(stderr, "initialize:", err)
		return 1
	}

	if err := runPilotUI(sess.link, *step); err != nil {
		fmt.Fprintln(stderr, "pilot:", err)
		return 1
	}
	return 0
}

func runMock(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("mock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	addr := fs.String("addr", "", "override sim.addr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}
	if *addr != "" {
		cfg.Sim.Addr = *addr
	}

	log, closeLog, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, Console: stderr})
	if err != nil {
		fmt.Fprintln(stderr, "logger:", err)
		return 2
	}
	defer closeLog()

	opts := []sim.Option{sim.WithLogger(log)}
	if cfg.Sim.TelemetryAddr != "" {
		opts = append(opts, sim.WithTelemetry(cfg.Sim.TelemetryAddr, cfg.Sim.TelemetryHz))
	}
	vehicle, err := sim.Listen(cfg.Sim.Addr, opts...)
	if err != nil {
		fmt.Fprintln(stderr, "mock:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(stdout, "simulated vehicle listening on", vehicle.Addr())
	if err := vehicle.Run(ctx); err != nil {
		log.Error("mock vehicle stopped", zap.Error(err))
		return 1
	}
	return 0
}

func runConfig(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", config.DefaultConfigPath, "config file path")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintln(stderr, "config file exists, use --force to overwrite:", *path)
		return 1
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}

	cfg := config.Default()
	if err := cfg.Save(*path); err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	fmt.Fprintln(stdout, "wrote", *path)
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  linkd serve  [--config tellolink.toml] [--log-level info] [--vehicle host:port]")
	fmt.Fprintln(w, "  linkd pilot  [--config tellolink.toml] [--step 30]")
	fmt.Fprintln(w, "  linkd mock   [--config tellolink.toml] [--addr host:port]")
	fmt.Fprintln(w, "  linkd config [--config tellolink.toml] [--force]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    hold the vehicle link and publish traffic (default)")
	fmt.Fprintln(w, "  pilot    fly the vehicle from the keyboard")
	fmt.Fprintln(w, "  mock     run a simulated vehicle")
	fmt.Fprintln(w, "  config   write the default config file")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("polyrhythmd v%s\n", version)
	fmt.Println("Polyrhythm puzzle module daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  polyrhythmd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Hosts one polyrhythm puzzle module. Press the button to hear two")
	fmt.Println("  rhythms, then hold and release it while the bomb clock's last digit")
	fmt.Println("  shows each rhythm's beat count (mod 10). Three correct answers solve it.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Local countdown clock, keyboard space bar as the button")
	fmt.Println("  polyrhythmd -input-device /dev/input/event3")
	fmt.Println()
	fmt.Println("  # Use an external bomb service for the clock and strike/pass reports")
	fmt.Println("  polyrhythmd -clock-source remote -bomb-ws-url ws://127.0.0.1:4321")
	fmt.Println()
	fmt.Println("  # Drive the module from the command line")
	fmt.Println("  polyctl submit 3 7")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			flag.Usage = printUsage
			printUsage()
			return
		}
	}

	var (
		configPath = flag.String("config", "", "Path to YAML config file")

		inputDevice   = flag.String("input-device", "", "Linux input event device for the button (empty disables)")
		clockSource   = flag.String("clock-source", ClockSourceLocal, "Bomb clock source: local|remote")
		clockCountsUp = flag.Bool("clock-counts-up", false, "Clock counts up (zen mode)")
		clockStartSec = flag.Float64("clock-start-sec", defaultClockStartSec, "Local clock start value in seconds")
		bombWsURL     = flag.String("bomb-ws-url", "ws://127.0.0.1:4321", "Bomb service websocket URL")
		bombTimeoutMS = flag.Int("bomb-ws-timeout-ms", defaultReadTimeoutMS, "Timeout in milliseconds for bomb responses")
		updateHz      = flag.Int("update-hz", defaultUpdateHz, "Tick frequency in Hz")
		automation    = flag.Bool("automation", false, "Remote automation is active (extends the submission window)")
		ambient       = flag.Bool("ambient", false, "Play random rhythms until the first press")
		seed          = flag.Uint64("seed", 0, "Round generator seed (0 = random)")
		ipcSocketPath = flag.String("ipc-socket", "/tmp/polyrhythmd.sock", "Unix domain socket path for IPC")
		httpPort      = flag.Int("http-port", 3002, "HTTP port for the state websocket and journal API (0 disables)")
		journalPath   = flag.String("journal", "", "SQLite journal path (empty disables)")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
	)

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input-device":
			o.InputDevice = inputDevice
		case "clock-source":
			o.ClockSource = clockSource
		case "clock-counts-up":
			o.ClockCountsUp = clockCountsUp
		case "clock-start-sec":
			o.ClockStartSec = clockStartSec
		case "bomb-ws-url":
			o.BombWsURL = bombWsURL
		case "bomb-ws-timeout-ms":
			o.BombTimeoutMS = bombTimeoutMS
		case "update-hz":
			o.UpdateHz = updateHz
		case "automation":
			o.AutomationActive = automation
		case "ambient":
			o.Ambient = ambient
		case "seed":
			o.Seed = seed
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "http-port":
			o.HTTPPort = httpPort
		case "journal":
			o.JournalPath = journalPath
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("polyrhythmd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Clock and bomb
	var (
		clock  Clock
		bomb   Bomb
		remote *BombClient
	)
	switch cfg.Clock.Source {
	case ClockSourceRemote:
		client, err := NewBombClient(cfg.Bomb.WsURL, cfg.Clock.CountsUp, logger, cfg.Bomb.TimeoutMS)
		if err != nil {
			return fmt.Errorf("connect to bomb: %w", err)
		}
		defer client.Close()
		clock, bomb, remote = client, client, client
	default:
		clock = NewLocalClock(cfg.Clock.StartSec, cfg.Clock.CountsUp)
		bomb = NewLocalBomb(logger)
	}

	// Journal
	var (
		journal  *Journal
		recorder journalRecorder
		reader   journalReader
	)
	if cfg.Journal.Path != "" {
		j, err := OpenJournal(ExpandPath(cfg.Journal.Path), logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		journal, recorder, reader = j, j, j
		logger.Info("journal enabled", "path", cfg.Journal.Path, "session_id", j.SessionID())
	}

	// Module
	seed := cfg.Module.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	var ids ModuleIDs
	module := NewModule(ids.Next(), cfg.ToModuleConfig(), rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), logger)

	events := make(chan Event, defaultEventQueueSize)
	broadcasts := make(chan StateBroadcast, defaultBroadcastQueue)

	logger.Debug("configuration",
		"clock_source", cfg.Clock.Source,
		"clock_counts_up", cfg.Clock.CountsUp,
		"update_hz", cfg.Daemon.UpdateHz,
		"submit_window_sec", cfg.Module.SubmitWindowSec,
		"automation_active", cfg.Module.AutomationActive,
		"ambient", cfg.Player.Ambient,
		"seed", seed,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"journal", cfg.Journal.Path,
		"input_devices", cfg.Input.Devices)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runDaemon(gctx, events, module, clock, bomb, recorder, broadcasts, cfg.Daemon.UpdateHz, logger)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, cfg.IPCReplyTimeout(), logger)
	})

	if cfg.HTTP.Port > 0 {
		srv := NewServer(logger, events, ServerConfig{})
		mux := http.NewServeMux()
		srv.Register(mux, "/ws")
		mux.HandleFunc("/state", stateHandler(events))
		mux.HandleFunc("/journal", journalHandler(reader, logger))

		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Port, mux, logger)
		})
	} else {
		// Nobody listens; keep the daemon from filling the queue.
		g.Go(func() error {
			drainBroadcasts(gctx, broadcasts)
			return nil
		})
	}

	if journal != nil {
		g.Go(func() error {
			return journal.Run(gctx)
		})
	}

	if remote != nil {
		g.Go(func() error {
			return remote.RunPoller(gctx, cfg.Bomb.PollHz)
		})
	}

	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			return runInput(gctx, cfg.Input.Devices, cfg.Input.KeyCode, events, logger)
		})
	}

	logger.Info("polyrhythmd started",
		"version", version,
		"module_id", module.ID,
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"clock_source", cfg.Clock.Source)

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shut down")
	return nil
}

func drainBroadcasts(ctx context.Context, src <-chan StateBroadcast) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-src:
		}
	}
}

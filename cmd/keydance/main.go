// keydance - tap-dance and composite-modifier remapper for Linux keyboards
//
//	keydance run            Read a keyboard and drive the virtual output
//	keydance replay <file>  Run a recorded script through the pipeline
//	keydance record         Record a keyboard to a replay script
//	keydance mode [a|b]     Show or set the secondary-action mode
//	keydance release        Release keys a running daemon holds down
//	keydance status         Show configuration, mode and diagnostics
//	keydance chatter        Show recent chatter reports
//	keydance devices        List keyboards
//	keydance config <cmd>   init, check or show the configuration
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"keydance/internal/chatter"
	"keydance/internal/config"
	"keydance/internal/health"
	"keydance/internal/ipc"
	"keydance/internal/keycode"
	"keydance/internal/logging"
	"keydance/internal/mode"
	"keydance/internal/output"
	"keydance/internal/scanner"
	"keydance/internal/store"
	"keydance/internal/tick"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = cmdRun(args)
	case "replay":
		err = cmdReplay(args)
	case "record":
		err = cmdRecord(args)
	case "mode":
		err = cmdMode(args)
	case "release":
		err = cmdRelease(args)
	case "status":
		err = cmdStatus(args)
	case "chatter":
		err = cmdChatter(args)
	case "devices":
		err = cmdDevices()
	case "config":
		err = cmdConfig(args)
	case "version", "-v", "--version":
		fmt.Printf("keydance %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "keydance %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`keydance - tap-dance and composite-modifier remapper

USAGE:
    keydance <command> [options]

COMMANDS:
    run                 Read a keyboard and drive the virtual output
    replay <script>     Run a replay script through the pipeline and print the steps
    record -o <script>  Record a keyboard to a replay script (Ctrl-C to stop)
    mode [a|b]          Show or set the secondary-action mode
    release             Release every key a running daemon holds down
    status              Show configuration, mode and diagnostics
    chatter             Show recent chatter reports
    devices             List keyboards
    config <action>     init | check | show
    version             Show version
    help                Show this help message

KEYS (default keymap):
    Right Alt           1 tap: Right Alt    2: Right Meta    3: Right Meta+Alt
    Right Ctrl          tap: App (Compose)    hold: Fn layer    2: Right Ctrl    3: App
    Left/Right Shift    hold: Shift    double tap: secondary action
                        (mode a: Caps Lock, mode b: Ctrl+F15; right side adds Shift)

'keydance mode' changes a running daemon immediately through its control
socket; with no daemon it updates the stored mode for the next 'run'.

ENVIRONMENT:
    KEYDANCE_DATA_DIR, KEYDANCE_TAPPING_TERM_MS, KEYDANCE_CHATTER,
    KEYDANCE_CHATTER_THRESHOLD_MS, KEYDANCE_DEVICE, KEYDANCE_OUTPUT,
    KEYDANCE_STORAGE_PATH, KEYDANCE_LOG_LEVEL, KEYDANCE_LOG_PATH,
    KEYDANCE_METRICS_ADDR`)
}

// loadConfig loads path, or the default location when path is empty.
func loadConfig(path string) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", loader.Path(), err)
	}
	return loader, cfg, nil
}

func newLogger(cfg *config.Config, verbose bool) (*logging.Logger, error) {
	lc, err := cfg.LoggingConfig()
	if err != nil {
		return nil, err
	}
	if verbose {
		lc.Level = logging.LevelDebug
		lc.AddSource = true
	}
	log, err := logging.New(lc)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(log)
	return log, nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	device := fs.String("device", "", "input device path or name (overrides config)")
	backend := fs.String("output", "", "output backend: uinput or log (overrides config)")
	noGrab := fs.Bool("no-grab", false, "do not take exclusive access to the device")
	verbose := fs.Bool("verbose", false, "debug logging")
	detach := fs.Bool("detach", false, "run in the background")
	fs.Parse(args)

	if *detach {
		return detachSelf(args)
	}

	loader, cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer loader.Close()
	if *device != "" {
		cfg.Input.Device = *device
	}
	if *noGrab {
		cfg.Input.Grab = false
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log, err := newLogger(cfg, *verbose)
	if err != nil {
		return err
	}
	defer log.Close()
	if loader.Migration != nil {
		log.Warn("config uses an old format; save it with 'keydance config show' to upgrade",
			"from_version", loader.Migration.FromVersion)
	}

	p, err := newPipeline(cfg, log, pipelineOptions{Backend: *backend})
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("shutdown", "error", err)
		}
	}()

	srv := ipc.NewServer(ipc.ServerConfig{
		SocketPath: controlSocket(cfg),
		Logger:     log.WithComponent("ipc").Logger,
	}, p)
	if err := srv.Start(); err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return err
		}
		log.Warn("control socket disabled", "error", err)
	} else {
		defer srv.Stop()
	}

	clock := tick.NewMonotonic()
	src, err := scanner.OpenEvdev(scanner.EvdevOptions{
		Device: cfg.Input.Device,
		Grab:   cfg.Input.Grab,
		Clock:  clock,
	})
	if err != nil {
		return err
	}
	defer src.Close()
	p.device = src.Path()
	log.Info("keydance started", "version", version, "device", src.Path(), "name", src.Name(),
		"mode", p.sel.Mode().String(), "tapping_term_ms", cfg.Timing.TappingTermMS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := p.metrics.Registry().Serve(ctx, cfg.Metrics.ListenAddr, p.health.Routes()); err != nil {
				log.Warn("metrics server", "error", err)
			}
		}()
	}

	reloads := make(chan *config.Config, 1)
	loader.OnChange(func(old, new *config.Config) {
		if need := config.RestartRequired(old, new); len(need) > 0 {
			log.Warn("config change needs a restart", "sections", strings.Join(need, ","))
		}
		if !config.TimingChanged(old, new) {
			return
		}
		// Keep only the newest pending config.
		select {
		case <-reloads:
		default:
		}
		reloads <- new
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "error", err)
	} else {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-loader.Errors():
					log.Warn("config reload rejected", "error", err)
				}
			}
		}()
	}

	events, scanErr := pump(ctx, src)
	loopErr := p.loop(ctx, events, reloads, clock)
	stop()

	if loopErr != nil {
		log.Error("stopping", "error", loopErr)
		return loopErr
	}
	if err := <-scanErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("keydance stopped")
	return nil
}

// printDaemonHealth asks a running daemon for its health report.
func printDaemonHealth(addr string) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		fmt.Println("Health endpoint: not reachable")
		return
	}
	defer resp.Body.Close()

	var report health.Response
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		fmt.Printf("Health endpoint: bad report (%v)\n", err)
		return
	}
	fmt.Printf("Health: %s\n", report.Status)
	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := report.Components[name]
		line := fmt.Sprintf("  %-16s %s", name, r.Status)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		} else if r.Message != "" {
			line += " (" + r.Message + ")"
		}
		fmt.Println(line)
	}
}

// detachSelf restarts the current command without -detach in a new session.
func detachSelf(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	var rest []string
	for _, a := range args {
		if a != "-detach" && a != "--detach" {
			rest = append(rest, a)
		}
	}
	cmd := exec.Command(exe, append([]string{"run"}, rest...)...)
	cmd.SysProcAttr = getDaemonSysProcAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start background process: %w", err)
	}
	fmt.Printf("keydance running in the background (pid %d)\n", cmd.Process.Pid)
	return cmd.Process.Release()
}

// chatterLog collects chatter records from the drain goroutine.
type chatterLog struct {
	mu   sync.Mutex
	recs []chatter.Record
}

func (c *chatterLog) Emit(r chatter.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
}

func cmdReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	backend := fs.String("output", "log", "output backend: log or uinput")
	realtime := fs.Bool("realtime", false, "wait between events as recorded")
	speed := fs.Float64("speed", 1, "realtime speed factor")
	modeName := fs.String("mode", "", "start in mode a or b instead of the stored mode")
	useStore := fs.Bool("store", false, "read and write the configured store instead of memory")
	verbose := fs.Bool("verbose", false, "debug logging")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: keydance replay [options] <script.json>")
	}
	script, err := scanner.LoadScript(fs.Arg(0))
	if err != nil {
		return err
	}

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.Chatter.DiagPath = ""
	cfg.Logging.Output = "stderr"
	log, err := newLogger(cfg, *verbose)
	if err != nil {
		return err
	}

	opts := pipelineOptions{Backend: *backend}
	if !*useStore {
		mem := store.NewMemory(0)
		if *modeName != "" {
			m, err := mode.Parse(*modeName)
			if err != nil {
				return err
			}
			mem = store.NewMemory(byte(m))
		}
		opts.Persister = mem
	}
	rec := output.NewRecorder()
	chat := &chatterLog{}
	opts.Extra = rec
	opts.Sink = chat

	p, err := newPipeline(cfg, log, opts)
	if err != nil {
		return err
	}

	replay, err := scanner.NewReplay(script, scanner.ReplayOptions{Realtime: *realtime, Speed: *speed})
	if err != nil {
		p.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	streamErr := replay.Stream(ctx, p.dispatch)

	// Resolve anything still waiting on its tapping window.
	p.d.Poll(replay.Last() + tick.Tick(p.d.Timing().Window))
	status := p.d.Status()
	if err := p.Close(); err != nil {
		log.Warn("shutdown", "error", err)
	}
	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		return streamErr
	}

	fmt.Printf("%s: %d events\n", filepath.Base(fs.Arg(0)), replay.Len())
	for _, s := range rec.Steps() {
		fmt.Printf("  %-8s %s\n", s.Op, s.Action)
	}
	for _, r := range chat.recs {
		fmt.Printf("  chatter  %s\n", r)
	}
	fmt.Printf("mode: %s\n", status.Mode)
	if len(status.Held) > 0 {
		var held []string
		for _, a := range status.Held {
			held = append(held, a.String())
		}
		fmt.Printf("still held: %s\n", strings.Join(held, ", "))
	} else if !rec.Balanced() {
		return fmt.Errorf("asserts and deasserts do not pair up")
	}
	return nil
}

func cmdRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	out := fs.String("o", "", "output script path")
	device := fs.String("device", "", "input device path or name")
	grab := fs.Bool("grab", false, "take exclusive access to the device")
	duration := fs.Duration("duration", 0, "stop after this long")
	desc := fs.String("description", "", "script description")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("usage: keydance record -o <script.json>")
	}

	src, err := scanner.OpenEvdev(scanner.EvdevOptions{Device: *device, Grab: *grab})
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	fmt.Fprintf(os.Stderr, "Recording %s (%s). Press Ctrl-C to stop.\n", src.Name(), src.Path())
	events, err := scanner.Collect(ctx, src)
	if err != nil {
		return err
	}
	if err := scanner.NewScript(*desc, events).Save(*out); err != nil {
		return err
	}
	fmt.Printf("Wrote %d events to %s\n", len(events), *out)
	return nil
}

func openStore(configPath string) (*store.Store, *config.Config, error) {
	_, cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func cmdMode(args []string) error {
	fs := flag.NewFlagSet("mode", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	fs.Parse(args)

	var m mode.Mode
	if fs.NArg() > 0 {
		var err error
		if m, err = mode.Parse(fs.Arg(0)); err != nil {
			return err
		}
	}

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// A running daemon owns the mode; ask it first.
	client, err := ipc.Dial(controlSocket(cfg), time.Second)
	if err == nil {
		defer client.Close()
		ctx := context.Background()
		if fs.NArg() == 0 {
			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", st.Mode, st.Secondary)
			return nil
		}
		resp, err := client.SetMode(ctx, m.String())
		if err != nil {
			return err
		}
		fmt.Printf("%s -> %s (%s)\n", resp.From, resp.To, m.Secondary())
		return nil
	}
	if !errors.Is(err, ipc.ErrDaemonNotRunning) {
		return err
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	sel, err := mode.Load(st)
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Printf("%s (%s)\n", sel.Mode(), sel.Secondary())
		return nil
	}
	from := sel.Mode()
	if err := sel.SetMode(m); err != nil {
		return err
	}
	fmt.Printf("%s -> %s (%s)\n", from, m, sel.Secondary())
	return nil
}

// cmdRelease lets go of every key a running daemon holds down.
func cmdRelease(args []string) error {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	fs.Parse(args)

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	client, err := ipc.Dial(controlSocket(cfg), time.Second)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.ReleaseAll(context.Background())
	if err != nil {
		return err
	}
	if len(resp.Released) == 0 {
		fmt.Println("No keys were held")
		return nil
	}
	fmt.Printf("Released: %s\n", strings.Join(resp.Released, " "))
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	fs.Parse(args)

	loader := config.NewLoader(*configPath)
	fmt.Println("=== keydance Status ===")
	fmt.Println()
	fmt.Printf("Config file: %s", loader.Path())
	if _, err := os.Stat(loader.Path()); err != nil {
		fmt.Print(" (not found, using defaults)")
	}
	fmt.Println()

	cfg, err := loader.Load()
	if err != nil {
		fmt.Printf("Config: INVALID (%v)\n", err)
		return nil
	}
	fmt.Printf("Tapping term: %d ms\n", cfg.Timing.TappingTermMS)
	fmt.Printf("Chatter detection: %v (threshold %d ms)\n", cfg.Chatter.Enabled, cfg.Chatter.ThresholdMS)
	fmt.Printf("Output backend: %s\n", cfg.Output.Backend)
	fmt.Printf("Store: %s\n", cfg.Storage.Path)

	if _, err := os.Stat(cfg.Storage.Path); err == nil {
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			fmt.Printf("Store: UNREADABLE (%v)\n", err)
		} else {
			defer st.Close()
			if sel, err := mode.Load(st); err == nil {
				fmt.Printf("Mode: %s (%s)\n", sel.Mode(), sel.Secondary())
			}
			if at, err := st.UpdatedAt(); err == nil && !at.IsZero() {
				fmt.Printf("Mode last changed: %s\n", at.Local().Format(time.RFC3339))
			}
			if counts, err := st.ChatterCounts(); err == nil && len(counts) > 0 {
				fmt.Println("Chatter reports:")
				keys := make([]keycode.KeyID, 0, len(counts))
				for k := range counts {
					keys = append(keys, k)
				}
				sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
				for _, k := range keys {
					fmt.Printf("  %-16s %d\n", k, counts[k])
				}
			}
		}
	} else {
		fmt.Println("Mode: a (store not created yet)")
	}

	if client, err := ipc.Dial(controlSocket(cfg), time.Second); err == nil {
		if st, err := client.Status(context.Background()); err == nil {
			fmt.Printf("Daemon: running (pid %d, up %s, device %s)\n", st.PID, st.Uptime, st.Device)
			fmt.Printf("Live mode: %s (%s)\n", st.Mode, st.Secondary)
			if len(st.Held) > 0 {
				fmt.Printf("Held: %s\n", strings.Join(st.Held, " "))
			}
		}
		client.Close()
	} else {
		fmt.Println("Daemon: not running")
	}
	if cfg.Metrics.Enabled {
		printDaemonHealth(cfg.Metrics.ListenAddr)
	}

	crashes, err := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir: filepath.Join(filepath.Dir(cfg.Logging.FilePath), "crashes"),
	}).CrashReports()
	if err == nil && len(crashes) > 0 {
		fmt.Printf("Crash reports: %d (latest %s)\n", len(crashes),
			crashes[len(crashes)-1].Timestamp.Local().Format(time.RFC3339))
	}

	fmt.Println()
	fmt.Println("Keyboards:")
	kbds, err := scanner.ListKeyboards()
	switch {
	case err != nil:
		fmt.Printf("  unavailable (%v)\n", err)
	case len(kbds) == 0:
		fmt.Println("  none readable (check permissions on /dev/input)")
	default:
		for _, k := range kbds {
			fmt.Printf("  %s  %s\n", k.Path, k.Name)
		}
	}
	return nil
}

func cmdChatter(args []string) error {
	fs := flag.NewFlagSet("chatter", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	limit := fs.Int("n", 20, "number of reports")
	fs.Parse(args)

	st, _, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.RecentChatter(*limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No chatter recorded.")
		return nil
	}
	for _, r := range rows {
		rec := chatter.Record{Key: r.Key, Pressed: r.Pressed, Deltas: r.Deltas}
		fmt.Printf("%s  %s\n", r.RecordedAt.Local().Format("2006-01-02 15:04:05"), rec)
	}
	return nil
}

func cmdDevices() error {
	kbds, err := scanner.ListKeyboards()
	if err != nil {
		return err
	}
	if len(kbds) == 0 {
		fmt.Println("No readable keyboards. Check permissions on /dev/input.")
		return nil
	}
	for _, k := range kbds {
		fmt.Printf("%s\t%s\n", k.Path, k.Name)
	}
	return nil
}

func cmdConfig(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: keydance config <init|check|show> [-config path]")
	}
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	fs.Parse(args[1:])

	switch args[0] {
	case "init":
		path := *configPath
		if path == "" {
			path = filepath.Join(config.PlatformConfigDir(), "config.toml")
		}
		cfg, created, err := config.LoadOrCreate(path)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("%s already exists\n", path)
			return nil
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)

	case "check":
		loader := config.NewLoader(*configPath)
		cfg, err := loadConfigUnchecked(loader.Path())
		if err != nil {
			return err
		}
		findings := config.Check(cfg)
		for _, f := range findings {
			fmt.Println(f.Error())
		}
		if findings.HasErrors() {
			return fmt.Errorf("%d problem(s) in %s", len(findings.Errors()), loader.Path())
		}
		fmt.Printf("%s: ok\n", loader.Path())

	case "show":
		_, cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		return cfg.WriteTOML(os.Stdout)

	default:
		return fmt.Errorf("unknown config action %q", args[0])
	}
	return nil
}

// loadConfigUnchecked loads and migrates without rejecting invalid values,
// so check can list every finding.
func loadConfigUnchecked(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if _, err := config.MigrateConfig(cfg, ""); err != nil {
		return nil, err
	}
	return cfg, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-ripple/audio"
	"go-ripple/config"
	"go-ripple/debug"
	"go-ripple/grid"
	"go-ripple/loop"
	"go-ripple/midi"
	"go-ripple/sequencer"
	"go-ripple/session"
	"go-ripple/store/cache"
	"go-ripple/store/memory"
	"go-ripple/store/relay"
	"go-ripple/theme"
	"go-ripple/tui"
)

const discoverTimeout = 3 * time.Second

type playOptions struct {
	name     string
	relayURL string
	discover bool
	midiPort string
	debug    bool
}

func newRootCmd() *cobra.Command {
	var opts playOptions
	root := &cobra.Command{
		Use:   "go-ripple",
		Short: "A shared 16x16 step sequencer whose notes ripple across the grid",
		Long: `go-ripple plays a 16x16 grid of notes column by column. Enabled cells
trigger notes and a ripple through their neighbors. Presets are kept in a
session record replicated to everyone on the same relay.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), opts)
		},
	}
	root.Flags().StringVar(&opts.name, "name", "", "display name for a new session record")
	root.Flags().StringVar(&opts.relayURL, "relay", "", "relay websocket URL (ws://host:port/ws)")
	root.Flags().BoolVar(&opts.discover, "discover", false, "look for a relay on the local network")
	root.Flags().StringVar(&opts.midiPort, "port", "", "MIDI output port for notes")
	root.Flags().BoolVar(&opts.debug, "debug", false, "write a debug log to the config directory")

	root.AddCommand(newRelayCmd(), newPortsCmd(), newTuningsCmd())
	return root
}

func runPlay(parent context.Context, opts playOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, opts)

	if cfg.Debug {
		dir, err := config.ConfigDir()
		if err == nil {
			err = debug.Enable(filepath.Join(dir, "debug.log"))
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "debug log disabled: %v\n", err)
		}
		defer debug.Disable()
	}

	th := theme.New(loadPalette(cfg.Palette))

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// the loop outlives the signal so preferences can be read after the
	// TUI exits
	loopCtx, stopLoop := context.WithCancel(parent)
	defer stopLoop()
	lp := loop.New()
	g.Go(func() error {
		lp.Run(loopCtx)
		return nil
	})

	store, runStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		stopLoop()
		cancel()
		g.Wait()
		return err
	}
	defer closeStore()
	if runStore != nil {
		g.Go(func() error { return runStore(ctx) })
	}

	player := audio.NewMIDIEngine(cfg.MIDIPort, cfg.MIDIChannel)
	defer player.Close()

	manager := sequencer.NewManager(lp, session.NewEngine(store), player)
	if cfg.UI.LastTempo > 0 {
		if err := manager.SetTempo(cfg.UI.LastTempo); err != nil {
			debug.Warn("config", "last tempo: %v", err)
		}
	}
	if cfg.UI.LastTuning != "" {
		if err := manager.SetTuning(cfg.UI.LastTuning); err != nil {
			debug.Warn("config", "last tuning: %v", err)
		}
	}

	if err := manager.StartRuntime(ctx, displayName(cfg)); err != nil {
		stopLoop()
		cancel()
		g.Wait()
		return err
	}
	g.Go(func() error { return manager.RunLEDs(ctx) })

	deviceMgr := midi.NewDeviceManager(cfg.AutoConnectPorts()...)
	g.Go(func() error {
		deviceMgr.Run(ctx)
		return nil
	})

	p := tea.NewProgram(tui.NewModel(manager, deviceMgr, th), tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	savePrefs(cfg, manager)

	manager.Close()
	stopLoop()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}

// savePrefs stores tempo and tuning for the next start. Nothing is written
// when the loop already stopped, since the state read would be empty.
func savePrefs(cfg *config.Config, manager *sequencer.Manager) bool {
	st, ok := manager.CurrentState()
	if !ok {
		debug.Warn("config", "loop stopped, keeping saved preferences")
		return false
	}
	cfg.UI.LastTempo = st.Tempo
	cfg.UI.LastTuning = string(st.Tuning.Name)
	if err := cfg.Save(); err != nil {
		debug.Warn("config", "save: %v", err)
		return false
	}
	return true
}

func applyFlags(cfg *config.Config, opts playOptions) {
	if opts.name != "" {
		cfg.Name = opts.name
	}
	if opts.relayURL != "" {
		cfg.RelayURL = opts.relayURL
	}
	if opts.discover {
		cfg.RelayDiscover = true
	}
	if opts.midiPort != "" {
		cfg.MIDIPort = opts.midiPort
	}
	if opts.debug {
		cfg.Debug = true
	}
}

func displayName(cfg *config.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return strings.Split(host, ".")[0]
	}
	return "player"
}

func loadPalette(path string) *theme.Palette {
	if path == "" {
		return theme.Default()
	}
	p, err := theme.LoadGPL(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "palette: %v (using built-in)\n", err)
		return theme.Default()
	}
	return p
}

// openStore picks the replication substrate: the relay when one is
// configured or discovered, a solo in-memory network otherwise. run, when
// not nil, keeps the relay connection alive until its context ends.
func openStore(ctx context.Context, cfg *config.Config) (store session.Store, run func(context.Context) error, closeFn func(), err error) {
	url := cfg.RelayURL
	if url == "" && cfg.RelayDiscover {
		found, err := relay.Discover(ctx, discoverTimeout)
		if err != nil {
			debug.Warn("relay", "discover: %v", err)
		}
		url = found
	}

	if url == "" {
		debug.Log("session", "no relay configured, playing solo")
		return memory.NewNetwork().Join(""), nil, func() {}, nil
	}

	id, err := relay.NewIdentity(cfg.Secret)
	if err != nil {
		return nil, nil, nil, err
	}
	path, err := cfg.DataPath("replicas.db")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("data dir: %w", err)
	}
	c, err := cache.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := relay.NewClient(id, c)
	if err != nil {
		c.Close()
		return nil, nil, nil, err
	}
	if err := client.Connect(ctx, url); err != nil {
		debug.Warn("relay", "%v", err)
		fmt.Fprintf(os.Stderr, "relay unreachable, playing from cache and retrying: %v\n", err)
	}

	run = func(ctx context.Context) error {
		return client.Run(ctx, url)
	}
	return client, run, func() {
		client.Close()
		c.Close()
	}, nil
}

func newRelayCmd() *cobra.Command {
	var (
		listen     string
		noAnnounce bool
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay hub that replicates session records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen != "" {
				cfg.RelayListen = listen
			}
			debug.EnableWriter(os.Stderr, slog.LevelInfo)
			return runRelay(cmd.Context(), cfg, !noAnnounce)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default from config, :7777)")
	cmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "do not announce the relay over mDNS")
	return cmd
}

func runRelay(parent context.Context, cfg *config.Config, announce bool) error {
	path, err := cfg.DataPath("relay.db")
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c, err := cache.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	srv, err := relay.NewServer(c)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.ListenAndServe(ctx, cfg.RelayListen) })
	if announce {
		port, err := listenPort(cfg.RelayListen)
		if err != nil {
			return err
		}
		g.Go(func() error { return relay.Announce(ctx, port) })
	}
	return g.Wait()
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("listen port %q: %w", p, err)
	}
	return port, nil
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List MIDI output ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("=== MIDI Output Ports ===")
			fmt.Println("(waiting up to 3 seconds...)")
			ports, err := audio.OutPorts(cmd.Context())
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("  (none)")
			}
			for i, name := range ports {
				fmt.Printf("  [%d] %s\n", i, name)
			}
			return nil
		},
	}
}

func newTuningsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tunings",
		Short: "Print the pitch of every row for each tuning",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range grid.TuningNames() {
				t, _ := grid.LookupTuning(string(name))
				pitches := make([]string, grid.GridSize)
				for row := range pitches {
					pitches[row] = t.Pitch(row)
				}
				fmt.Printf("%-18s %s\n", name, strings.Join(pitches, " "))
			}
		},
	}
}

// Command ircstackd wires a serial line through SLIP, IPv4, and the
// simplified TCP engine up to the IRC application layer, matching
// `run_irc.py`'s topology: one PTY per peer, a single host address, and a
// default route out through that peer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/ipv4"
	"github.com/pty-net/slipstack/irc"
	"github.com/pty-net/slipstack/reactor"
	"github.com/pty-net/slipstack/serial"
	"github.com/pty-net/slipstack/slip"
	"github.com/pty-net/slipstack/tcp"
)

// Set by -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// logger is the CLI entrypoint's own thin slog wrapper, matching the
// teacher's `examples/stackbasic/main.go` logger type.
type logger struct{ log *slog.Logger }

func (l logger) error(msg string, attrs ...slog.Attr) { internal.LogAttrs(l.log, slog.LevelError, msg, attrs...) }
func (l logger) info(msg string, attrs ...slog.Attr)  { internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...) }
func (l logger) warn(msg string, attrs ...slog.Attr)  { internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...) }

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool
	var metricsAddr string

	root := &cobra.Command{
		Use:           "ircstackd",
		Short:         "userspace SLIP/IPv4/TCP/IRC stack daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (defaults built in if omitted)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "start the stack and serve IRC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			log := newLogger(verbose)
			return runStack(cmd.Context(), cfg, log, metricsAddr)
		},
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9100", "address to serve /metrics on")

	routesCmd := &cobra.Command{
		Use:   "routes",
		Short: "print the configured routing table and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			for _, r := range cfg.Routes {
				fmt.Printf("%s -> %s\n", r.Prefix, r.NextHop)
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("ircstackd version=%s commit=%s date=%s\n", version, commit, date)
			return nil
		},
	}

	root.AddCommand(runCmd, routesCmd, versionCmd)
	return root
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
}

// Config is the YAML-configurable surface of the daemon: host address,
// routing table, per-peer serial links, and the IRC listen port.
type Config struct {
	HostAddress string        `yaml:"host_address"`
	ListenPort  uint16        `yaml:"listen_port"`
	Routes      []RouteConfig `yaml:"routes"`
	Peers       []PeerConfig  `yaml:"peers"`
}

// RouteConfig is one routing-table entry: a CIDR prefix and its next hop.
type RouteConfig struct {
	Prefix  string `yaml:"prefix"`
	NextHop string `yaml:"next_hop"`
}

// PeerConfig is one SLIP link: the peer's IPv4 address, and an optional
// serial device. Device == "loopback" wires an in-memory pair instead of a
// real PTY, for running the stack without hardware; any other value
// (including empty) allocates a fresh Linux PTY, exactly like the original
// `physical_layer.pty.PTY`, which never attaches to a pre-existing path.
type PeerConfig struct {
	Address string `yaml:"address"`
	Device  string `yaml:"device"`
}

// defaultConfig mirrors run_irc.py's hardcoded topology: stack at
// 192.168.123.2, a single peer at 192.168.123.1 reachable via the default
// route, IRC listening on port 7000.
func defaultConfig() Config {
	return Config{
		HostAddress: "192.168.123.2",
		ListenPort:  7000,
		Routes: []RouteConfig{
			{Prefix: "0.0.0.0/0", NextHop: "192.168.123.1"},
		},
		Peers: []PeerConfig{
			{Address: "192.168.123.1"},
		},
	}
}

func loadConfig(path string) (Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("ircstackd: reading config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("ircstackd: parsing config: %w", err)
	}
	return cfg, nil
}

// runStack builds the serial -> SLIP -> IPv4 -> TCP -> IRC pipeline
// described in SPEC_FULL.md §4 and blocks until ctx is cancelled (SIGINT,
// SIGTERM) or the reactor loop stops.
func runStack(parentCtx context.Context, cfg Config, log *slog.Logger, metricsAddr string) error {
	lg := logger{log}

	hostAddr, err := netip.ParseAddr(cfg.HostAddress)
	if err != nil {
		return fmt.Errorf("ircstackd: parsing host_address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loop := reactor.New(nil, log)
	framer := slip.NewFramer(log)
	engine := ipv4.NewEngine(hostAddr, framer, log)
	framer.RegisterReceiver(engine.Recv)

	routes := make([]ipv4.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		prefix, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			return fmt.Errorf("ircstackd: parsing route prefix %q: %w", r.Prefix, err)
		}
		nextHop, err := netip.ParseAddr(r.NextHop)
		if err != nil {
			return fmt.Errorf("ircstackd: parsing route next_hop %q: %w", r.NextHop, err)
		}
		routes = append(routes, ipv4.Route{Prefix: prefix, NextHop: nextHop})
	}
	engine.SetRoutingTable(routes)

	var banners []string
	for _, peer := range cfg.Peers {
		peerAddr, err := netip.ParseAddr(peer.Address)
		if err != nil {
			return fmt.Errorf("ircstackd: parsing peer address %q: %w", peer.Address, err)
		}

		var line serial.Line
		if peer.Device == "loopback" {
			a, _ := serial.LoopbackPair(loop)
			line = a
		} else {
			pty, err := serial.OpenPTY(loop, log)
			if err != nil {
				return fmt.Errorf("ircstackd: opening PTY for peer %s: %w", peerAddr, err)
			}
			line = pty
			banners = append(banners,
				fmt.Sprintf("  sudo slattach -v -p slip %s", pty.Name()),
				fmt.Sprintf("  sudo ifconfig sl0 %s pointopoint %s", peerAddr, hostAddr))
		}
		framer.AddLink(peerAddr, line)
	}

	tcpServer := tcp.NewServer(cfg.ListenPort, engine, loop, log)
	engine.RegisterReceiver(func(src, dst netip.Addr, payload []byte) {
		tcpServer.Recv(src, dst, payload)
	})
	irc.NewServer(tcpServer, log)

	if metricsAddr != "" {
		go serveMetrics(lg, metricsAddr)
	}

	fmt.Println("To connect to the other end of the physical layer, execute:")
	for _, line := range banners {
		fmt.Println(line)
	}
	fmt.Println()
	fmt.Printf("Service will be available at address %s port %d\n", hostAddr, cfg.ListenPort)
	fmt.Println()

	lg.info("ircstackd: starting", slog.String("host", hostAddr.String()), slog.Int("port", int(cfg.ListenPort)))
	err = loop.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	lg.info("ircstackd: stopped")
	return nil
}

func serveMetrics(lg logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	lg.info("ircstackd: metrics listening", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		lg.error("ircstackd: metrics server failed", slog.String("err", err.Error()))
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"geogram/internal/api"
	"geogram/internal/config"
	"geogram/internal/discovery"
	"geogram/internal/logging"
	"geogram/internal/model"
	"geogram/internal/relay"
	"geogram/internal/report"
	"geogram/internal/smtp"
	"geogram/internal/store"
	"geogram/internal/stun"
	"geogram/internal/stunutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = relay.DefaultVersion

const usage = `geogram - relay station, STUN responder, LAN discovery and mail delivery

Usage:
  geogram serve --config <path> [--callsign <cs>]
  geogram config init --config <path> [--data-dir <dir>] [--callsign <cs>] [--force]
  geogram config show --config <path>
  geogram scan --config <path> [--timeout 1500ms] [--csv <file>]
  geogram stats --in <file> [--window 24h]
  geogram relays --config <path>
  geogram status --url <relay-url>
  geogram stun probe --servers <host:port,...> [--timeout 3s]
  geogram mail send --config <path> --from <addr> --to <addr,...> [--cc ...] [--bcc ...]
                    --subject <text> (--body <text>|--body-file <path>) [--attach <path,...>]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	case "scan":
		handleScan(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "relays":
		handleRelays(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "stun":
		handleSTUN(os.Args[2:])
	case "mail":
		handleMail(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	callsign := fs.String("callsign", "", "station callsign override")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *callsign != "" {
		cfg.Callsign = *callsign
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	log := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(log)

	relays, err := store.OpenRelayStore(cfg.Discovery.RegistryPath)
	if err != nil {
		fatal(err)
	}

	sup := suture.New("geogram", suture.Spec{
		EventHook: func(e suture.Event) { log.Warn("supervisor event", "event", e.String()) },
		Timeout:   10 * time.Second,
	})

	services := 0
	if cfg.Relay.Enabled {
		sup.Add(relay.NewServer(cfg.Relay, relay.Options{
			Callsign: cfg.Callsign,
			Version:  version,
			Logger:   log,
		}))
		services++
	}
	if cfg.STUN.Enabled {
		sup.Add(stun.NewServer(cfg.STUN.Port, log))
		services++
	}
	if cfg.Discovery.Enabled {
		opts := discovery.OptionsFromConfig(cfg.Discovery)
		opts.Logger = log
		opts.Registry = relays
		sup.Add(discovery.NewScanner(opts))
		services++
	}
	if services == 0 {
		fatal(errors.New("no components enabled in config"))
	}

	ctx, cancel := signalContext()
	defer cancel()

	log.Info("geogram starting", "version", version, "callsign", cfg.Callsign, "services", services)
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
	log.Info("geogram stopped")
}

func handleConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "config subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "init":
		configInit(args[1:])
	case "show":
		configShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func configInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	dataDir := fs.String("data-dir", "", "data directory for tiles and the relay registry")
	callsign := fs.String("callsign", "", "station callsign")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		fatal(fmt.Errorf("%s already exists (use --force to overwrite)", *configPath))
	}

	cfg := config.Config{
		Callsign:  *callsign,
		DataDir:   *dataDir,
		Relay:     config.RelayConfig{Enabled: true, TileServerEnabled: true, OSMFallback: true},
		STUN:      config.STUNConfig{Enabled: true},
		Discovery: config.DiscoveryConfig{Enabled: true},
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(*configPath), "data")
	}
	if err := config.Save(*configPath, cfg); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
}

func configShow(args []string) {
	fs := flag.NewFlagSet("config show", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "callsign=%s data_dir=%s\n", cfg.Callsign, cfg.DataDir)
	fmt.Fprintf(os.Stdout, "relay enabled=%t port=%d tiles=%t osm_fallback=%t max_zoom=%d cache_mb=%d\n",
		cfg.Relay.Enabled, cfg.Relay.Port, cfg.Relay.TileServerEnabled, cfg.Relay.OSMFallback, cfg.Relay.MaxZoomLevel, cfg.Relay.MaxCacheSizeMB)
	fmt.Fprintf(os.Stdout, "stun enabled=%t port=%d\n", cfg.STUN.Enabled, cfg.STUN.Port)
	fmt.Fprintf(os.Stdout, "discovery enabled=%t ports=%v timeout=%dms batch=%d interval=%ds\n",
		cfg.Discovery.Enabled, cfg.Discovery.Ports, cfg.Discovery.ProbeTimeoutMs, cfg.Discovery.BatchSize, cfg.Discovery.IntervalSec)
	fmt.Fprintf(os.Stdout, "smtp port=%d timeout=%ds dkim=%t\n", cfg.SMTP.Port, cfg.SMTP.TimeoutSec, cfg.SMTP.DKIM.Enabled())
}

func handleScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	timeout := fs.Duration("timeout", 0, "per-probe timeout override")
	csvPath := fs.String("csv", "", "append results to this CSV file")
	quiet := fs.Bool("quiet", false, "suppress progress output")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log, os.Stderr)

	relays, err := store.OpenRelayStore(cfg.Discovery.RegistryPath)
	if err != nil {
		fatal(err)
	}
	opts := discovery.OptionsFromConfig(cfg.Discovery)
	opts.Logger = log
	opts.Registry = relays
	scanner := discovery.NewScanner(opts)

	ctx, cancel := signalContext()
	defer cancel()

	so := discovery.ScanOptions{Timeout: *timeout}
	if !*quiet {
		so.Progress = func(p discovery.Progress) {
			if p.Found != nil {
				fmt.Fprintf(os.Stderr, "found %s %s:%d %s\n", p.Found.Type, p.Found.IP, p.Found.Port, p.Found.Callsign)
				return
			}
			fmt.Fprintf(os.Stderr, "\rprobed %d/%d", p.Probed, p.Total)
			if p.Probed == p.Total {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	results, err := scanner.Scan(ctx, so)
	if err != nil && !errors.Is(err, discovery.ErrCancelled) && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
	printResults(results)

	if *csvPath != "" && len(results) > 0 {
		if err := report.AppendCSV(*csvPath, results); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "appended %d results to %s\n", len(results), *csvPath)
	}
}

func printResults(results []model.ScanResult) {
	if len(results) == 0 {
		fmt.Fprintln(os.Stdout, "no devices found")
		return
	}
	fmt.Fprintf(os.Stdout, "%-8s  %-15s  %-6s  %-10s  %-24s  %-10s  %s\n", "TYPE", "IP", "PORT", "CALLSIGN", "NAME", "VERSION", "LOCATION")
	for _, r := range results {
		fmt.Fprintf(os.Stdout, "%-8s  %-15s  %-6d  %-10s  %-24s  %-10s  %s\n", r.Type, r.IP, r.Port, r.Callsign, r.Name, r.Version, r.Location)
	}
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	in := fs.String("in", "", "scan history CSV")
	window := fs.Duration("window", 24*time.Hour, "time window")
	_ = fs.Parse(args)

	if *in == "" {
		fatal(errors.New("--in is required"))
	}
	items, err := report.ReadCSV(*in)
	if err != nil {
		fatal(err)
	}

	summary := report.Summarize(items, time.Now().UTC().Add(-*window))
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no results in window")
		return
	}

	fmt.Fprintf(os.Stdout, "results=%d hosts=%d from=%s to=%s\n", summary.Count, summary.Hosts, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "relay=%d desktop=%d client=%d located=%d\n",
		summary.ByType[model.DeviceRelay], summary.ByType[model.DeviceDesktop], summary.ByType[model.DeviceClient], summary.Located)
	fmt.Fprintf(os.Stdout, "connected devices avg=%.1f max=%d\n", summary.AvgConnected, summary.MaxConnected)
}

func handleRelays(args []string) {
	fs := flag.NewFlagSet("relays", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Discovery.RegistryPath == "" {
		fatal(errors.New("discovery.registry_path or data_dir required"))
	}
	relays, err := store.OpenRelayStore(cfg.Discovery.RegistryPath)
	if err != nil {
		fatal(err)
	}

	list := relays.List()
	if len(list) == 0 {
		fmt.Fprintln(os.Stdout, "no relays")
		return
	}
	fmt.Fprintf(os.Stdout, "%-1s  %-28s  %-10s  %-24s  %-8s  %s\n", "*", "URL", "CALLSIGN", "NAME", "STATUS", "LAST_SEEN")
	for _, r := range list {
		mark := " "
		if r.Preferred {
			mark = "*"
		}
		fmt.Fprintf(os.Stdout, "%-1s  %-28s  %-10s  %-24s  %-8s  %s\n", mark, r.URL, r.Callsign, r.Name, r.Status, r.LastSeenAt.Format(time.RFC3339))
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	url := fs.String("url", "", "relay base URL (host:port or http://...)")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	_ = fs.Parse(args)

	if *url == "" {
		fatal(errors.New("--url is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := api.NewClient(normalizeBaseURL(*url), nil)
	st, err := client.Status(ctx)
	if err != nil {
		fatal(err)
	}

	location := "-"
	if st.Location != nil {
		location = *st.Location
	}
	fmt.Fprintf(os.Stdout, "name=%s version=%s callsign=%s\n", st.Name, st.Version, st.Callsign)
	fmt.Fprintf(os.Stdout, "description=%s location=%s\n", st.Description, location)
	fmt.Fprintf(os.Stdout, "connected_devices=%d uptime=%ds relay_mode=%t\n", st.ConnectedDevices, st.Uptime, st.RelayMode)
	fmt.Fprintf(os.Stdout, "tile_server=%t osm_fallback=%t cache_size=%d cache_bytes=%d\n", st.TileServer, st.OSMFallback, st.CacheSize, st.CacheSizeBytes)

	rooms, err := client.ChatRooms(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat rooms: %v\n", err)
		return
	}
	for _, room := range rooms.Rooms {
		fmt.Fprintf(os.Stdout, "room id=%s name=%q members=%d\n", room.ID, room.Name, room.MemberCount)
	}
}

func handleSTUN(args []string) {
	if len(args) == 0 || args[0] != "probe" {
		fmt.Fprint(os.Stderr, "stun subcommand required: probe\n")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("stun probe", flag.ExitOnError)
	servers := fs.String("servers", "", "comma-separated STUN servers")
	timeout := fs.Duration("timeout", 3*time.Second, "per-server timeout")
	_ = fs.Parse(args[1:])

	list := splitList(*servers)
	if len(list) == 0 {
		fatal(errors.New("--servers is required"))
	}

	ctx, cancel := signalContext()
	defer cancel()

	rep, err := stunutil.Probe(ctx, list, *timeout)
	for server, perr := range rep.Errors {
		fmt.Fprintf(os.Stderr, "%s: %v\n", server, perr)
	}
	if err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stdout, "%-28s  %-28s  %-8s  %s\n", "SERVER", "MAPPED", "RTT", "SOFTWARE")
	for _, r := range rep.Results {
		fmt.Fprintf(os.Stdout, "%-28s  %-28s  %-8s  %s\n", r.Server, r.Mapped, r.RTT.Round(time.Millisecond), r.Software)
	}
	fmt.Fprintf(os.Stdout, "nat_type=%s\n", rep.NATType)
}

func handleMail(args []string) {
	if len(args) == 0 || args[0] != "send" {
		fmt.Fprint(os.Stderr, "mail subcommand required: send\n")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("mail send", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	from := fs.String("from", "", "sender address")
	to := fs.String("to", "", "comma-separated recipients")
	cc := fs.String("cc", "", "comma-separated carbon-copy recipients")
	bcc := fs.String("bcc", "", "comma-separated blind-copy recipients")
	subject := fs.String("subject", "", "subject line")
	body := fs.String("body", "", "plain text body")
	bodyFile := fs.String("body-file", "", "read the body from a file")
	attach := fs.String("attach", "", "comma-separated files to attach")
	_ = fs.Parse(args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log, os.Stderr)

	msg := &smtp.Message{
		From:    *from,
		To:      splitList(*to),
		Cc:      splitList(*cc),
		Bcc:     splitList(*bcc),
		Subject: *subject,
		Body:    *body,
	}
	if *bodyFile != "" {
		data, err := os.ReadFile(*bodyFile)
		if err != nil {
			fatal(err)
		}
		msg.Body = string(data)
	}
	for _, path := range splitList(*attach) {
		data, err := os.ReadFile(path)
		if err != nil {
			fatal(err)
		}
		msg.Attachments = append(msg.Attachments, smtp.Attachment{
			Filename:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        data,
		})
	}

	signer, err := smtp.LoadDKIMSigner(cfg.SMTP.DKIM)
	if err != nil {
		fatal(err)
	}
	opts := smtp.OptionsFromConfig(cfg.SMTP)
	opts.Signer = signer
	opts.Logger = log

	ctx, cancel := signalContext()
	defer cancel()

	res := smtp.NewClient(opts).Send(ctx, msg)
	for _, d := range res.Domains {
		status := "ok"
		if d.Err != nil {
			status = d.Err.Error()
		}
		fmt.Fprintf(os.Stdout, "%-24s  %-32s  %s\n", d.Domain, d.Host, status)
	}
	if !res.Success {
		fatal(res.Err)
	}
	fmt.Fprintf(os.Stdout, "sent in %s\n", res.Elapsed.Round(time.Millisecond))
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + strings.TrimRight(addr, "/")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

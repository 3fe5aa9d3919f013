// Package main is the entry point for the theme registry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/compresr/theme-registry/internal/config"
	"github.com/compresr/theme-registry/internal/gateway"
	"github.com/compresr/theme-registry/internal/monitoring"
)

// Version is set at build time via ldflags.
var Version = "v0.1.0"

// ANSI color codes
const (
	bold  = "\033[1m"
	reset = "\033[0m"
)

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "theme-registry", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) < 2 {
		printHelp(os.Stdout)
		return
	}

	var err error
	switch os.Args[1] {
	case "serve", "start":
		err = runServe(os.Args[2:])
	case "render":
		err = runRender(os.Args[2:], os.Stdout)
	case "registry":
		err = runRegistry(os.Args[2:], os.Stdout)
	case "rebuild":
		err = runRebuild(os.Args[2:])
	case "version", "-v", "--version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printHelp(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// resolveConfig finds the config for a command.
// Checks: user flag -> filesystem locations -> embedded config.
// Returns raw bytes and source description.
func resolveConfig(userConfig string) ([]byte, string, error) {
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	var searchPaths []string
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", "theme-registry", "config.yaml"))
	}
	searchPaths = append(searchPaths, "configs/config.yaml")

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	data, err := getEmbeddedConfig("config")
	if err != nil {
		return nil, "", fmt.Errorf("no config file found. Specify --config path")
	}
	return data, "(embedded) config.yaml", nil
}

// commonFlags are shared by every command that loads the registry.
type commonFlags struct {
	config *string
	debug  *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config: fs.String("config", "", "path to config file"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
	}
}

// loadConfig loads env files, parses the config and installs the configured
// global logger. --debug overrides the configured level.
func loadConfig(flags commonFlags) (*config.Config, error) {
	loadEnvFiles()
	setupLogging(*flags.debug)

	data, source, err := resolveConfig(*flags.config)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if *flags.debug {
		cfg.Monitoring.LogLevel = "debug"
	}
	monitoring.Global(cfg.Monitoring.LoggerConfig())
	log.Debug().Str("config", source).Msg("configuration loaded")
	return cfg, nil
}

// setupLogging installs a stderr logger used until the config is loaded.
// Output is human-readable on a terminal and JSON otherwise.
func setupLogging(debug bool) {
	level := "info"
	if debug {
		level = "debug"
	}
	monitoring.Global(monitoring.LoggerConfig{Level: level, Output: "stderr"})
}

// =============================================================================
// COMMANDS
// =============================================================================

// runServe starts the HTTP render API.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	flags := addCommonFlags(fs)
	port := fs.Int("port", 0, "override server.port")
	watch := fs.Bool("watch", false, "rebuild on extension changes")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Extensions.Watch || *watch {
		if err := a.watch(ctx); err != nil {
			return err
		}
	}

	log.Info().
		Str("version", Version).
		Int("port", cfg.Server.Port).
		Str("cache", cfg.Cache.Type).
		Str("theme", cfg.Theme.Default).
		Msg("theme registry starting")

	gw := gateway.New(cfg, a.extensions, a.dispatcher)
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	if err := gw.Start(); err != nil {
		return err
	}
	log.Info().Msg("theme registry stopped")
	return nil
}

// runRender renders one hook and prints the output.
//
//	theme-registry render [--theme NAME] [--vars JSON] HOOK [HOOK...]
//
// Several hooks are treated as a candidate list.
func runRender(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	flags := addCommonFlags(fs)
	skin := fs.String("theme", "", "skin to render with (default: theme.default)")
	vars := fs.String("vars", "{}", "variables as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("render: hook name required")
	}

	body := []byte(`{}`)
	var err error
	if fs.NArg() == 1 {
		body, err = sjson.SetBytes(body, "hook", fs.Arg(0))
	} else {
		body, err = sjson.SetBytes(body, "hook", fs.Args())
	}
	if err != nil {
		return err
	}
	if body, err = sjson.SetRawBytes(body, "variables", []byte(*vars)); err != nil {
		return err
	}
	req, err := gateway.ParseRenderRequest(body)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	dc, err := a.dispatcher.Context(*skin)
	if err != nil {
		return err
	}
	var output string
	if len(req.Candidates) > 0 {
		output, err = a.dispatcher.RenderCandidates(ctx, dc, req.Candidates, req.Variables)
	} else {
		output, err = a.dispatcher.Render(ctx, dc, req.Hook, req.Variables)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, output)
	return err
}

// registryDump is the JSON shape printed by the registry command.
type registryDump struct {
	Theme       string `json:"theme"`
	Engine      string `json:"engine,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Hooks       any    `json:"hooks"`
}

// runRegistry prints the registry of a skin as JSON.
func runRegistry(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("registry", flag.ContinueOnError)
	flags := addCommonFlags(fs)
	skin := fs.String("theme", "", "skin (default: theme.default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	dc, err := a.dispatcher.Context(*skin)
	if err != nil {
		return err
	}
	reg := a.dispatcher.Registry(ctx, dc)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(registryDump{
		Theme:       dc.Skin.Name,
		Engine:      dc.Engine,
		Fingerprint: reg.Fingerprint(),
		Hooks:       reg.Descriptors(),
	})
}

// runRebuild clears every cached registry. Only meaningful for the sqlite cache.
func runRebuild(args []string) error {
	fs := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	flags := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.dispatcher.Rebuild(ctx); err != nil {
		return err
	}
	log.Info().Str("cache", cfg.Cache.Type).Msg("theme registry cache cleared")
	return nil
}

// =============================================================================
// HELP
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "theme-registry %s\n", Version)
	fmt.Fprintf(w, "Runtime: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, bold+"theme-registry"+reset+" - hook registry and render dispatcher")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  theme-registry <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the HTTP render API")
	fmt.Fprintln(w, "  render       Render a hook and print the output")
	fmt.Fprintln(w, "  registry     Print the registry of a skin as JSON")
	fmt.Fprintln(w, "  rebuild      Clear cached registries")
	fmt.Fprintln(w, "  version      Print version information")
	fmt.Fprintln(w, "  help         Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common Options:")
	fmt.Fprintln(w, "  --config FILE    Config file (default: ~/.config/theme-registry/config.yaml,")
	fmt.Fprintln(w, "                   configs/config.yaml, then the built-in config)")
	fmt.Fprintln(w, "  --debug          Enable debug logging")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  theme-registry serve --port 8080 --watch")
	fmt.Fprintln(w, "  theme-registry render --theme seven --vars '{\"heading\":\"Nav\"}' links")
	fmt.Fprintln(w, "  theme-registry render page__front page")
	fmt.Fprintln(w, "  theme-registry registry --theme seven")
}

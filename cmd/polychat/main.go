package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	// earlyinit must be listed before bubbletea so its init() sets the
	// terminal background before bubbletea's init() can query it.
	_ "github.com/Dhanuzh/polychat/internal/earlyinit"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Dhanuzh/polychat/internal/config"
	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/logging"
	"github.com/Dhanuzh/polychat/internal/provider"
	"github.com/Dhanuzh/polychat/internal/server"
	"github.com/Dhanuzh/polychat/internal/session"
	"github.com/Dhanuzh/polychat/internal/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "polychat",
		Short: "polychat - ask many AI models at once",
		Long: `polychat sends one prompt to several AI models through a single gateway
and shows every reply side by side. Press Tab in the terminal UI to continue
a conversation with one model.`,
		RunE:          runTUI,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: search ~/.config/polychat, ., .polychat)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().String("base-url", "", "Gateway base URL")
	rootCmd.Flags().String("focus", "", "Open the focused chat on this model")

	rootCmd.AddCommand(
		askCmd(),
		chatCmd(),
		serveCmd(),
		modelsCmd(),
		configCmd(),
		completionCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the services shared by every command. It is built once per
// invocation and handed to whichever front end runs.
type app struct {
	cfg         *config.Config
	gateway     provider.Gateway
	registry    *provider.Registry
	dispatcher  *dispatch.Dispatcher
	coordinator *dispatch.Coordinator
	selection   *dispatch.Selection
	logCloser   io.Closer
}

func (a *app) Close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// loadConfig reads the config and applies global flags. With validate set,
// an invalid config is an error.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// newApp loads config, sets up logging and builds the service graph.
// quiet discards console logs, for front ends that own the terminal.
func newApp(cmd *cobra.Command, quiet bool) (*app, error) {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return nil, err
	}

	closer, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Quiet: quiet})
	if err != nil {
		return nil, err
	}

	if cfg.Gateway.APIKey == "" {
		log.Warn().Msg("no gateway API key configured; set POLYCHAT_GATEWAY_API_KEY or gateway.api_key")
	}

	gw, err := provider.NewGateway(cfg)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	registry := provider.NewRegistryFromConfig(cfg)
	disabled, unmatched, err := registry.Expand(cfg.DisabledModels...)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	for _, p := range unmatched {
		log.Warn().Str("pattern", p).Msg("disabled_models pattern matches no model")
	}
	d := dispatch.NewDispatcher(gw, registry, dispatch.Options{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})

	log.Debug().
		Str("gateway", gw.Name()).
		Str("base_url", cfg.Gateway.BaseURL).
		Int("models", len(registry.ListChatModelIDs())).
		Msg("services ready")

	return &app{
		cfg:         cfg,
		gateway:     gw,
		registry:    registry,
		dispatcher:  d,
		coordinator: dispatch.NewCoordinator(d, cfg.Dispatch),
		selection:   dispatch.NewSelection(disabled...),
		logCloser:   closer,
	}, nil
}

// runTUI is the default command - starts the grid TUI
func runTUI(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	focus, _ := cmd.Flags().GetString("focus")
	err = tui.Run(tui.Options{
		Registry:    a.registry,
		Coordinator: a.coordinator,
		Selection:   a.selection,
		Session:     session.New(a.dispatcher, a.registry),
		Theme:       a.cfg.Theme,
		Focus:       focus,
	})
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Start a headless HTTP and WebSocket API for fan-out and focused chat.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				a.cfg.Server.Port = port
			}
			if host, _ := cmd.Flags().GetString("hostname"); host != "" {
				a.cfg.Server.Hostname = host
			}

			server.Version = version
			store := session.NewStore(a.dispatcher, a.registry)
			srv := server.New(a.cfg, a.registry, a.coordinator, a.selection, store)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				log.Info().Msg("shutting down server")
				if err := srv.Stop(); err != nil {
					log.Error().Err(err).Msg("server shutdown failed")
				}
			}()

			return srv.Start()
		},
	}
	cmd.Flags().IntP("port", "P", 0, fmt.Sprintf("Port to listen on (default %d)", config.DefaultPort))
	cmd.Flags().String("hostname", "", "Hostname to bind (default localhost)")
	return cmd
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models [query]",
		Short: "List models in the registry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
				lister, ok := a.gateway.(provider.ModelLister)
				if !ok {
					return fmt.Errorf("gateway %q cannot list models", a.gateway.Name())
				}
				added, err := a.registry.Refresh(cmd.Context(), lister)
				if err != nil {
					return fmt.Errorf("failed to refresh models: %w", err)
				}
				log.Info().Int("added", added).Msg("model catalogue refreshed")
			}

			models := a.registry.List()
			if len(args) == 1 {
				models = a.registry.Find(args[0])
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				data, err := json.MarshalIndent(models, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			printModels(os.Stdout, models, a.selection)
			return nil
		},
	}
	cmd.Flags().Bool("refresh", false, "Add models reported by the gateway before listing")
	cmd.Flags().Bool("json", false, "Print the catalogue as JSON")
	return cmd
}

func printModels(w io.Writer, models []provider.ModelDescriptor, sel *dispatch.Selection) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCAPABILITIES\tENABLED")
	for _, m := range models {
		var caps []string
		if m.Capabilities.Text {
			caps = append(caps, "text")
		}
		if m.Capabilities.ImageIn {
			caps = append(caps, "image-in")
		}
		if m.Capabilities.ImageOut {
			caps = append(caps, "image-out")
		}
		enabled := "yes"
		switch {
		case !m.Capabilities.Text:
			enabled = "-"
		case !sel.Enabled(m.ID):
			enabled = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.DisplayName(), strings.Join(caps, ","), enabled)
	}
	_ = tw.Flush()
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			fmt.Println(cfg.String())
			fmt.Println()
			if src := cfg.Source(); src != "" {
				fmt.Printf("Loaded from: %s\n", src)
			} else {
				fmt.Println("Loaded from: defaults and environment")
			}
			fmt.Printf("Config directory: %s\n", config.GetConfigDir())
			fmt.Println(config.GetConfigPrecedence())

			if err := cfg.Validate(); err != nil {
				var verrs config.ValidationErrors
				if errors.As(err, &verrs) {
					fmt.Println("Validation: failed")
					for _, v := range verrs {
						fmt.Printf("  - %s\n", v.Error())
					}
					return errors.New("configuration is invalid")
				}
				return err
			}
			fmt.Println("Validation: ok")
			return nil
		},
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootCmd := cmd.Root()
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(os.Stdout)
			case "zsh":
				return rootCmd.GenZshCompletion(os.Stdout)
			case "fish":
				return rootCmd.GenFishCompletion(os.Stdout, true)
			case "powershell":
				return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s (supported: bash, zsh, fish, powershell)", args[0])
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("polychat version %s (%s)\n", version, commit)
			fmt.Printf("go version %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		cfg.LogLevel = l
	}
	if u, _ := cmd.Flags().GetString("base-url"); u != "" {
		cfg.Gateway.BaseURL = u
	}
}

// interruptContext is cancelled on Ctrl-C so a running dispatch stops
// without killing the process.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

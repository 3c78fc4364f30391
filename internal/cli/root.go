// Package cli defines the chatctl commands. State lives in a local SQLite
// file so consecutive invocations continue the same session.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/app"
	"github.com/zhouzirui/citychat/internal/config"
	"github.com/zhouzirui/citychat/internal/logging"
	"github.com/zhouzirui/citychat/internal/model/city"
)

const defaultUser = "cli"

type options struct {
	user       string
	db         string
	api        string
	city       string
	configPath string
	verbose    bool
}

// runtime is what every subcommand receives once flags are resolved.
type runtime struct {
	app    *app.App
	user   string
	page   city.PageContext
	cfg    *config.Config
	logger *zap.Logger
}

// run closes the runtime once fn returns, whatever its outcome.
func (r *runtime) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer r.close()
		return fn(cmd, args)
	}
}

func (r *runtime) close() {
	if r == nil || r.app == nil {
		return
	}
	if err := r.app.Close(); err != nil {
		r.logger.Warn("close storage", zap.Error(err))
	}
	_ = r.logger.Sync()
}

// NewRootCmd builds the chatctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal client for the city chat assistant",
		Long: `chatctl talks to the city chat backend the way the embedded widget
does: it keeps a session per user, remembers city summaries, and adds the
recent conversation to every query.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return rt.init(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.user, "user", "", "User key that owns the session (default \"cli\")")
	flags.StringVar(&opts.db, "db", "", "SQLite file holding chat state (default \"citychat.db\")")
	flags.StringVar(&opts.api, "api", "", "Base URL of the chat API")
	flags.StringVar(&opts.city, "city", "", "Slug of the city page being viewed")
	flags.StringVar(&opts.configPath, "config", "", "YAML profile with default settings")
	flags.BoolVar(&opts.verbose, "verbose", false, "Log debug output to stderr")

	root.AddCommand(newAskCmd(rt))
	root.AddCommand(newVoiceCmd(rt))
	root.AddCommand(newHistoryCmd(rt))
	root.AddCommand(newClearCmd(rt))
	root.AddCommand(newCityCmd(rt))
	root.AddCommand(newSessionCmd(rt))

	return root
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (r *runtime) init(cmd *cobra.Command, opts *options) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// chatctl keeps state on disk unless redis is asked for explicitly.
	if cfg.Storage.Driver != config.DriverRedis {
		cfg.Storage.Driver = config.DriverSQLite
	}
	if strings.TrimSpace(os.Getenv("LOG_LEVEL")) == "" {
		cfg.Log.Level = "warn"
	}

	var profile *config.Profile
	if opts.configPath != "" {
		profile, err = config.ReadProfile(opts.configPath)
		if err != nil {
			return err
		}
		if err := profile.Apply(cfg); err != nil {
			return err
		}
	}

	if opts.db != "" {
		cfg.Storage.Driver = config.DriverSQLite
		cfg.Storage.DSN = opts.db
	}
	if opts.api != "" {
		cfg.Remote.BaseURL = strings.TrimRight(opts.api, "/")
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	r.app = a
	r.cfg = cfg
	r.logger = logger
	r.user = firstNonEmpty(opts.user, profileUser(profile), defaultUser)
	r.page = city.PageContext{
		UserKey:  r.user,
		CitySlug: firstNonEmpty(opts.city, profileCity(profile)),
	}
	return nil
}

func profileUser(p *config.Profile) string {
	if p == nil {
		return ""
	}
	return p.User
}

func profileCity(p *config.Profile) string {
	if p == nil {
		return ""
	}
	return p.City
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

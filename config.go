/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	bind           string
	countdown      time.Duration
	detector       string
	firestoreColl  string
	firestoreProj  string
	gcsBucket      string
	historyDB      string
	historyLimit   int
	photoDir       string
	photoTimeout   time.Duration
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	store          string
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
	visionEndpoint string
	visionKey      string

	logger *zap.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch c.store {
	case "memory", "firestore":
	default:
		return fmt.Errorf("invalid store (must be memory or firestore): %q", c.store)
	}
	switch c.detector {
	case "vision", "none":
	default:
		return fmt.Errorf("invalid detector (must be vision or none): %q", c.detector)
	}
	if c.gcsBucket == "" && c.photoDir == "" {
		return errors.New("one of --photo-dir or --gcs-bucket must be set")
	}
	if c.countdown < 0 {
		return fmt.Errorf("invalid countdown (must not be negative): %s", c.countdown)
	}
	if c.photoTimeout <= 0 {
		return fmt.Errorf("invalid photo timeout (must be positive): %s", c.photoTimeout)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must not be negative): %s", c.sessionTimeout)
	}

	// Routes and photo URLs are built by appending "/..." to the prefix.
	c.prefix = strings.TrimSuffix(c.prefix, "/")

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

// bindEnv lets every flag in fs be set through a HAS_ environment variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HAS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

func normalizeFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "happyangrysurprised",
		Short:         "A two player selfie game: pull the winning face.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bindEnv(v, cmd.Flags())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.logger = logger

			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(normalizeFlags)

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: HAS_BIND)")
	fs.DurationVar(&cfg.countdown, "countdown", 3*time.Second, "delay between a player joining and both players taking their photo (env: HAS_COUNTDOWN)")
	fs.StringVar(&cfg.detector, "detector", "vision", "emotion detector to use, vision or none (env: HAS_DETECTOR)")
	fs.StringVar(&cfg.firestoreColl, "firestore-collection", "games", "firestore collection holding game sessions (env: HAS_FIRESTORE_COLLECTION)")
	fs.StringVar(&cfg.firestoreProj, "firestore-project", "", "google cloud project for firestore, detected when empty (env: HAS_FIRESTORE_PROJECT)")
	fs.StringVar(&cfg.gcsBucket, "gcs-bucket", "", "cloud storage bucket for photos, overrides --photo-dir (env: HAS_GCS_BUCKET)")
	fs.StringVar(&cfg.historyDB, "history-db", "history.db", "sqlite database of finished games, empty to disable (env: HAS_HISTORY_DB)")
	fs.StringVar(&cfg.photoDir, "photo-dir", "photos", "directory for photos when no bucket is set (env: HAS_PHOTO_DIR)")
	fs.DurationVar(&cfg.photoTimeout, "photo-timeout", 30*time.Second, "time a player has to submit a photo (env: HAS_PHOTO_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: HAS_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: HAS_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: HAS_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle games are removed, 0 to keep them (env: HAS_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.store, "store", "memory", "session store to use, memory or firestore (env: HAS_STORE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: HAS_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: HAS_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: HAS_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: HAS_VERSION)")
	fs.StringVar(&cfg.visionEndpoint, "vision-endpoint", "", "override the cloud vision endpoint (env: HAS_VISION_ENDPOINT)")
	fs.StringVar(&cfg.visionKey, "vision-key", "", "cloud vision api key, application default credentials when empty (env: HAS_VISION_KEY)")

	cmd.AddCommand(newHistoryCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("happyangrysurprised v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newHistoryCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print standings and recent results as YAML.",
		Args:  cobra.ExactArgs(0),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bindEnv(v, cmd.Flags())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.historyDB == "" {
				return errors.New("--history-db must be set")
			}
			if cfg.historyLimit < 1 {
				return fmt.Errorf("invalid limit (must be positive): %d", cfg.historyLimit)
			}

			return printHistory(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(normalizeFlags)

	fs.StringVar(&cfg.historyDB, "history-db", "history.db", "sqlite database of finished games (env: HAS_HISTORY_DB)")
	fs.IntVarP(&cfg.historyLimit, "limit", "n", 20, "number of results and standings to print (env: HAS_LIMIT)")

	return cmd
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/memorybox/game"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	maxPairs       int
	maxUploadSize  int64
	metrics        bool
	poolDir        string
	port           int
	prefix         string
	profile        bool
	resolveDelay   time.Duration
	sessionTimeout time.Duration
	thumbnailSize  uint
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxPairs < 2 {
		return fmt.Errorf("invalid max pairs (must be at least 2): %d", c.maxPairs)
	}
	if c.resolveDelay <= 0 {
		return fmt.Errorf("invalid resolve delay (must be positive): %s", c.resolveDelay)
	}
	if c.maxUploadSize <= 0 {
		return fmt.Errorf("invalid max upload size (must be positive): %d", c.maxUploadSize)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MEMORYBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "memorybox",
		Short:         "A picture-matching memory game, served as a single webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MEMORYBOX_BIND)")
	fs.IntVar(&cfg.maxPairs, "max-pairs", game.DefaultMaxPairs, "maximum number of pairs on a board (env: MEMORYBOX_MAX_PAIRS)")
	fs.Int64Var(&cfg.maxUploadSize, "max-upload-size", 16<<20, "maximum size in bytes of a single websocket message, uploads included (env: MEMORYBOX_MAX_UPLOAD_SIZE)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics at /metrics (env: MEMORYBOX_METRICS)")
	fs.StringVar(&cfg.poolDir, "pool-dir", "", "directory of system-provided card images, optionally described by pool.toml (env: MEMORYBOX_POOL_DIR)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MEMORYBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MEMORYBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MEMORYBOX_PROFILE)")
	fs.DurationVar(&cfg.resolveDelay, "resolve-delay", game.DefaultResolveDelay, "time two face-up cards stay visible before they are evaluated (env: MEMORYBOX_RESOLVE_DELAY)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle games are ended (env: MEMORYBOX_SESSION_TIMEOUT)")
	fs.UintVar(&cfg.thumbnailSize, "thumbnail-size", 256, "longest edge in pixels of served pool images, 0 to serve originals (env: MEMORYBOX_THUMBNAIL_SIZE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MEMORYBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MEMORYBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MEMORYBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MEMORYBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(newValidateCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("memorybox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

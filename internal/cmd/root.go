package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootOptions struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCommand builds the gelftcp command with its own viper instance.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{v: viper.New()})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gelftcp",
		Short: "Receive GELF messages over TCP",
		Long: `gelftcp listens for GELF messages sent over TCP, one JSON object per
NUL-terminated frame, and writes every received event to stdout.

Examples:
  gelftcp --port 12201
  gelftcp --codec kv --status-addr 127.0.0.1:8080
  gelftcp --rename-field app=application --add-field env=prod
  GELFTCP_STRIP_LEADING_UNDERSCORE=false gelftcp`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := setupLogging(cmd.ErrOrStderr(), cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.cfgFile, "config", "c", "", "config file (default: ./gelftcp.yaml if present)")
	flags.String("host", defaultConfig.Host, "address to listen on")
	flags.Int("port", defaultConfig.Port, "TCP port to listen on")
	flags.Bool("remap", defaultConfig.Remap, "move full_message or short_message into message")
	flags.Bool("strip-leading-underscore", defaultConfig.StripLeadingUnderscore, "rename _foo fields to foo")
	flags.Int("max-connections", defaultConfig.MaxConnections, "maximum concurrent connections (0 for no limit)")
	flags.Int("max-frame-size", defaultConfig.MaxFrameSize, "maximum frame size in bytes (0 for no limit)")
	flags.Bool("reverse-lookup", defaultConfig.ReverseLookup, "resolve client host names for source_host")
	flags.String("codec", defaultConfig.Codec, "output encoding: json, kv, yaml, gelf")
	flags.String("status-addr", defaultConfig.StatusAddr, "address for the HTTP status endpoint (empty to disable)")
	flags.String("log-level", defaultConfig.LogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", defaultConfig.LogFormat, "log format: text, json")
	flags.StringSlice("rename-field", nil, "rename a field, as old=new (repeatable)")
	flags.StringSlice("remove-field", nil, "remove a field (repeatable)")
	flags.StringSlice("set-field", nil, "set a field, as key=value (repeatable)")
	flags.StringSlice("add-field", nil, "add a field when missing, as key=value (repeatable)")

	for key, flag := range flagKeys {
		cobra.CheckErr(opts.v.BindPFlag(key, flags.Lookup(flag)))
	}
	opts.v.SetEnvPrefix("GELFTCP")
	opts.v.AutomaticEnv()

	return cmd
}

// flagKeys maps config keys to flag names
var flagKeys = map[string]string{
	"host":                     "host",
	"port":                     "port",
	"remap":                    "remap",
	"strip_leading_underscore": "strip-leading-underscore",
	"max_connections":          "max-connections",
	"max_frame_size":           "max-frame-size",
	"reverse_lookup":           "reverse-lookup",
	"codec":                    "codec",
	"status_addr":              "status-addr",
	"log_level":                "log-level",
	"log_format":               "log-format",
	"rename_fields":            "rename-field",
	"remove_fields":            "remove-field",
	"set_fields":               "set-field",
	"add_fields":               "add-field",
}

// load merges flags, GELFTCP_* environment variables and the config file
func (o *rootOptions) load() (Config, error) {
	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
		if err := o.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", o.cfgFile, err)
		}
	} else {
		o.v.AddConfigPath(".")
		o.v.SetConfigName("gelftcp")
		o.v.SetConfigType("yaml")
		if err := o.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := o.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nicwaller/gelftcp"
	"github.com/nicwaller/gelftcp/codec"
	"github.com/nicwaller/gelftcp/filter"
	"github.com/nicwaller/gelftcp/input"
)

type Config struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	Remap                  bool   `mapstructure:"remap"`
	StripLeadingUnderscore bool   `mapstructure:"strip_leading_underscore"`
	MaxConnections         int    `mapstructure:"max_connections"`
	MaxFrameSize           int    `mapstructure:"max_frame_size"`
	ReverseLookup          bool   `mapstructure:"reverse_lookup"`
	Codec                  string `mapstructure:"codec"`
	StatusAddr             string `mapstructure:"status_addr"`
	LogLevel               string `mapstructure:"log_level"`
	LogFormat              string `mapstructure:"log_format"`

	// Field edits run in this order after the GELF transformations.
	// RenameFields entries are old=new. SetFields overwrites and AddFields
	// only fills in missing fields, both as key=value.
	RenameFields []string `mapstructure:"rename_fields"`
	RemoveFields []string `mapstructure:"remove_fields"`
	SetFields    []string `mapstructure:"set_fields"`
	AddFields    []string `mapstructure:"add_fields"`
}

var defaultConfig = Config{
	Host:                   "0.0.0.0",
	Port:                   input.DefaultGelfPort,
	Remap:                  true,
	StripLeadingUnderscore: true,
	Codec:                  "json",
	LogLevel:               "info",
	LogFormat:              "text",
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("max_frame_size must not be negative")
	}
	if _, err := codecByName(c.Codec); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if _, err := c.Filters(); err != nil {
		return err
	}
	return nil
}

// Filters builds the field edits requested in the config
func (c Config) Filters() ([]gelftcp.NamedEntity[gelftcp.FilterPlugin], error) {
	var filters []gelftcp.NamedEntity[gelftcp.FilterPlugin]
	add := func(name string, f gelftcp.FilterPlugin) {
		filters = append(filters, gelftcp.NamedEntity[gelftcp.FilterPlugin]{Name: name, Value: f})
	}

	renames, err := assignments("rename_fields", c.RenameFields)
	if err != nil {
		return nil, err
	}
	for _, kv := range renames {
		add("rename "+kv[0], filter.Rename(kv[0], kv[1]))
	}
	for _, field := range c.RemoveFields {
		add("remove "+field, filter.Remove(field))
	}
	sets, err := assignments("set_fields", c.SetFields)
	if err != nil {
		return nil, err
	}
	for _, kv := range sets {
		add("set "+kv[0], filter.Replace(kv[0], kv[1]))
	}
	adds, err := assignments("add_fields", c.AddFields)
	if err != nil {
		return nil, err
	}
	if len(adds) > 0 {
		fields := make(map[string]string, len(adds))
		for _, kv := range adds {
			fields[kv[0]] = kv[1]
		}
		add("add fields", filter.AddFields(fields))
	}
	return filters, nil
}

func assignments(key string, entries []string) ([][2]string, error) {
	pairs := make([][2]string, 0, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%s: expected key=value but got %q", key, entry)
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs, nil
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return level, nil
}

func (c Config) GelfTcpOptions() (input.GelfTcpOptions, error) {
	filters, err := c.Filters()
	if err != nil {
		return input.GelfTcpOptions{}, err
	}
	return input.GelfTcpOptions{
		Filters:                filters,
		Host:                   c.Host,
		Port:                   c.Port,
		Remap:                  c.Remap,
		StripLeadingUnderscore: c.StripLeadingUnderscore,
		MaxConnections:         c.MaxConnections,
		MaxFrameSize:           c.MaxFrameSize,
		ReverseLookup:          c.ReverseLookup,
	}, nil
}

func codecByName(name string) (gelftcp.CodecPlugin, error) {
	switch name {
	case "json":
		return codec.Json(), nil
	case "kv":
		return codec.Kv(), nil
	case "yaml":
		return codec.Yaml(), nil
	case "gelf":
		return codec.Gelf(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

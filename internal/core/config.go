package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/jo-hoe/cutout/internal/imageprocessing"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 5001
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultMaxPayloadBytes = 20 << 20
	DefaultMaxImagePixels  = 40_000_000
	DefaultConfigPath      = "config.yaml"
)

// SupportedFormats lists every input format the pipeline can decode.
var SupportedFormats = []string{"png", "jpeg", "gif", "bmp", "tiff", "webp", imageprocessing.SVGFormat}

type ServiceConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	// LogFormat is text or json.
	LogFormat string `yaml:"logFormat"`
	// MaxPayloadBytes limits the raw request body.
	MaxPayloadBytes int64 `yaml:"maxPayloadBytes"`
	// MaxImagePixels limits width*height of the decoded input.
	MaxImagePixels int64                           `yaml:"maxImagePixels"`
	AllowedFormats []string                        `yaml:"allowedFormats"`
	Commands       []imageprocessing.CommandConfig `yaml:"commands"`
}

// DefaultConfig converts any supported input to PNG and removes the
// background through a rembg server.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:            DefaultPort,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		MaxImagePixels:  DefaultMaxImagePixels,
		AllowedFormats:  append([]string(nil), SupportedFormats...),
		Commands: []imageprocessing.CommandConfig{
			{
				Name: imageprocessing.PngConverterCommandName,
				Params: map[string]any{
					"svgFallbackWidth":  1024,
					"svgFallbackHeight": 1024,
				},
			},
			{
				Name: imageprocessing.BackgroundRemovalCommandName,
				Params: map[string]any{
					"remover": "remote",
				},
			},
		},
	}
}

// LoadConfig loads configuration from the specified YAML file.
// Keys missing from the file keep their default value.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return config, nil
}

// LoadConfigOrDefault behaves like LoadConfig but falls back to DefaultConfig when the file does not exist.
func LoadConfigOrDefault(configPath string) (*ServiceConfig, error) {
	config, err := LoadConfig(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", configPath)
		return DefaultConfig(), nil
	}
	return config, err
}

// LoadConfigFromEnvironment reads CONFIG_PATH (falling back to defaults
// when unset or missing) and applies the environment overrides.
func LoadConfigFromEnvironment() (*ServiceConfig, error) {
	config := DefaultConfig()
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		var err error
		if config, err = LoadConfigOrDefault(configPath); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnvOverrides overrides config values with environment variables.
// REMOVER_TYPE, REMBG_URL and REMBG_MODEL apply to every BackgroundRemovalCommand.
func (c *ServiceConfig) ApplyEnvOverrides(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}
	if v, ok := lookup("MAX_PAYLOAD_BYTES"); ok && v != "" {
		limit, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_PAYLOAD_BYTES %q: %w", v, err)
		}
		c.MaxPayloadBytes = limit
	}

	removerParams := map[string]string{
		"REMOVER_TYPE": "remover",
		"REMBG_URL":    "baseUrl",
		"REMBG_MODEL":  "model",
	}
	for env, param := range removerParams {
		v, ok := lookup(env)
		if !ok || v == "" {
			continue
		}
		for i := range c.Commands {
			if c.Commands[i].Name != imageprocessing.BackgroundRemovalCommandName {
				continue
			}
			if c.Commands[i].Params == nil {
				c.Commands[i].Params = map[string]any{}
			}
			c.Commands[i].Params[param] = v
		}
	}

	return c.Validate()
}

// Validate checks limits, formats and the command list.
func (c *ServiceConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be within [0, 65535], got %d", c.Port)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("maxPayloadBytes must be positive, got %d", c.MaxPayloadBytes)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("maxImagePixels must be positive, got %d", c.MaxImagePixels)
	}
	if len(c.AllowedFormats) == 0 {
		return errors.New("allowedFormats must not be empty")
	}
	for _, format := range c.AllowedFormats {
		if !slices.Contains(SupportedFormats, normalizeFormat(format)) {
			return fmt.Errorf("unsupported format %q, supported formats are %s", format, strings.Join(SupportedFormats, ", "))
		}
	}
	if err := validateCommands(c.Commands); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	return nil
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []imageprocessing.CommandConfig) error {
	if len(commands) == 0 {
		return errors.New("at least one command is required")
	}
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if !imageprocessing.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command at index %d: %s", i, cmd.Name)
		}
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
	}
	if !seenNames[imageprocessing.BackgroundRemovalCommandName] {
		return fmt.Errorf("pipeline must contain %s", imageprocessing.BackgroundRemovalCommandName)
	}
	return nil
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return format
}

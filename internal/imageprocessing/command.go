package imageprocessing

import "context"

// Command defines the interface for all image processing commands
type Command interface {
	Name() string
	Execute(ctx context.Context, imageData []byte) ([]byte, error)
}

// ReadinessChecker is implemented by commands that depend on an external
// capability and can report whether it is usable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// CommandFactory is a function type that creates a command from configuration parameters
type CommandFactory func(params map[string]any) (Command, error)

// CommandConfig represents a command configuration with name and parameters
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

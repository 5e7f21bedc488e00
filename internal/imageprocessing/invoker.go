package imageprocessing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CommandInvoker executes a sequence of commands on image data
type CommandInvoker struct {
	commands []Command
}

func NewCommandInvoker(commands []Command) *CommandInvoker {
	return &CommandInvoker{
		commands: commands,
	}
}

// NewCommandInvokerFromConfig creates every configured command from the DefaultRegistry.
func NewCommandInvokerFromConfig(configs []CommandConfig) (*CommandInvoker, error) {
	commands := make([]Command, 0, len(configs))
	for i, config := range configs {
		slog.Debug("creating command",
			"index", i,
			"command_name", config.Name,
			"params", config.Params)

		command, err := DefaultRegistry.Create(config.Name, config.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to create command at index %d (%s): %w", i, config.Name, err)
		}
		commands = append(commands, command)
	}
	return NewCommandInvoker(commands), nil
}

// Names returns the command names in execution order.
func (i *CommandInvoker) Names() []string {
	names := make([]string, 0, len(i.commands))
	for _, command := range i.commands {
		names = append(names, command.Name())
	}
	return names
}

// Ready probes every command implementing ReadinessChecker and joins their errors.
func (i *CommandInvoker) Ready(ctx context.Context) error {
	var errs []error
	for idx, command := range i.commands {
		checker, ok := command.(ReadinessChecker)
		if !ok {
			continue
		}
		if err := checker.Ready(ctx); err != nil {
			slog.Warn("command not ready",
				"index", idx,
				"command_name", command.Name(),
				"error", err)
			errs = append(errs, fmt.Errorf("command %s (index %d) not ready: %w", command.Name(), idx, err))
		}
	}
	return errors.Join(errs...)
}

// Execute applies all commands in sequence to the image data
func (i *CommandInvoker) Execute(ctx context.Context, imageData []byte) ([]byte, error) {
	start := time.Now()

	slog.Info("starting image processing pipeline",
		"command_count", len(i.commands),
		"input_size_bytes", len(imageData))

	if len(i.commands) == 0 {
		slog.Debug("no commands to execute, returning original image")
		return imageData, nil
	}

	currentData := imageData

	for idx, command := range i.commands {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pipeline aborted before command %s (index %d): %w", command.Name(), idx, err)
		}
		commandStart := time.Now()

		slog.Debug("executing command",
			"index", idx,
			"command_name", command.Name(),
			"input_size_bytes", len(currentData))

		processedData, err := command.Execute(ctx, currentData)
		if err != nil {
			slog.Error("command execution failed",
				"index", idx,
				"command_name", command.Name(),
				"error", err,
				"input_size_bytes", len(currentData))
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}

		slog.Info("command completed",
			"index", idx,
			"command_name", command.Name(),
			"duration_ms", time.Since(commandStart).Milliseconds(),
			"input_size_bytes", len(currentData),
			"output_size_bytes", len(processedData))

		currentData = processedData
	}

	slog.Info("image processing pipeline completed",
		"total_duration_ms", time.Since(start).Milliseconds(),
		"command_count", len(i.commands),
		"final_size_bytes", len(currentData))

	return currentData, nil
}

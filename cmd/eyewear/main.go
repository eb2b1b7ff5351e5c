// Command eyewear runs the multi-agent coordination service for the
// eyewear shop.
//
// Usage:
//
//	eyewear serve --config config.yaml
//	eyewear validate --config config.yaml
//	eyewear migrate-history --config config.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/mthangit/Multi-Agents-sub000/pkg/config"
	"github.com/mthangit/Multi-Agents-sub000/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version        VersionCmd        `cmd:"" help:"Show version information."`
	Serve          ServeCmd          `cmd:"" help:"Start the coordination server."`
	Validate       ValidateCmd       `cmd:"" help:"Validate the configuration file."`
	MigrateHistory MigrateHistoryCmd `cmd:"" name:"migrate-history" help:"Migrate cached history from the legacy key namespace."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("eyewear version %s\n", version)
	return nil
}

// ValidateCmd checks the configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s is valid (%d remote agents configured)\n", cli.Config, len(cfg.Agents))
	return nil
}

// loadConfig loads the config and applies CLI logging overrides.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logger.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Logger.File = cli.LogFile
	}
	return cfg, nil
}

// initLogging installs the process logger per cfg and returns a
// cleanup func.
func initLogging(cfg *config.Config) (func(), error) {
	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return nil, err
	}

	cleanup := func() {}
	output := os.Stderr
	if cfg.Logger.File != "" {
		file, closeFile, err := logger.OpenLogFile(cfg.Logger.File)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, cfg.Logger.Format)
	return cleanup, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("eyewear"),
		kong.Description("Multi-agent coordination service for the eyewear shop"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

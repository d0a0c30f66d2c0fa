// Mira - deterministic Czech dialogue runtime
// License: MIT
//
// Copyright (c) 2026 Mira contributors

package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	_ "time/tzdata"

	"github.com/dotsetgreg/mirabase/pkg/agent"
	"github.com/dotsetgreg/mirabase/pkg/config"
	"github.com/dotsetgreg/mirabase/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "mira"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	build = buildTime
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent root flags.
type globalOptions struct {
	configPath string
	debug      bool
}

func (o *globalOptions) path() string {
	if strings.TrimSpace(o.configPath) != "" {
		return o.configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config and applies its logging section.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.path())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if o.debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return nil, fmt.Errorf("enable file logging: %w", err)
		}
	}
	return cfg, nil
}

func (o *globalOptions) newRuntime() (*agent.Runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := agent.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize runtime: %w", err)
	}
	return rt, nil
}

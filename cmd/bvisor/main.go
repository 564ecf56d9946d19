// Package main implements the bvisor CLI.
package main

import (
	"fmt"
	"os"

	"github.com/bvisor/bvisor/internal/config"
	"github.com/bvisor/bvisor/internal/seccomp"
	"github.com/bvisor/bvisor/pkg/bvisor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Build-time variables (set via -ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	debug        bool
	settingsPath string
	showVersion  bool
	showFeatures bool
	exitCode     int
)

func main() {
	// The guest bootstrap re-execs this binary; it must take over before
	// cobra sees the arguments.
	if bvisor.IsChild() {
		bvisor.ChildMain()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "bvisor [flags] -- command [args...]",
		Short: "Run a command under user-space syscall supervision",
		Long: `bvisor runs an untrusted command inside a user-space sandbox: every
syscall the guest issues is intercepted through a seccomp user-notification
filter and emulated or mediated by a supervisor. The guest sees private
process ids, a private copy-on-write filesystem, and no host-sensitive paths.

Configuration (~/.bvisor.json, JSON with comments):
{
  "filesystem": {
    "denyPrefixes": ["/srv/"],
    "readOnlyPrefixes": ["/opt/data/"]
  }
}

Examples:
  bvisor -- cat /proc/self           # guest sees its private pid
  bvisor -- sh -c 'echo x > /tmp/f'  # write lands in the sandbox overlay
  bvisor --settings policy.json -- make`,
		RunE:          runCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
	}

	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().StringVarP(&settingsPath, "settings", "s", "", "Path to settings file (default: ~/.bvisor.json)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information")
	rootCmd.Flags().BoolVar(&showFeatures, "features", false, "Show kernel feature support and exit")

	rootCmd.Flags().SetInterspersed(false)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}

func runCommand(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("bvisor - user-space process sandbox\n")
		fmt.Printf("  Version: %s\n", version)
		fmt.Printf("  Built:   %s\n", buildTime)
		fmt.Printf("  Commit:  %s\n", gitCommit)
		return nil
	}

	if showFeatures {
		f := seccomp.DetectFeatures()
		fmt.Printf("Kernel features: %s\n", f.Summary())
		if err := f.Supported(); err != nil {
			fmt.Printf("  ✗ %v\n", err)
		} else {
			fmt.Printf("  ✓ sandbox supported\n")
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("no command specified. Use: bvisor -- command [args...]")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	sb, err := bvisor.CreateSandbox(cfg)
	if err != nil {
		return err
	}
	defer sb.Close()

	stdout, stderr, err := sb.RunCommand(args)
	if err != nil {
		return err
	}

	done := make(chan struct{}, 2)
	go drain(stdout, os.Stdout, done)
	go drain(stderr, os.Stderr, done)

	code, err := sb.Wait()
	<-done
	<-done
	if err != nil {
		return err
	}
	exitCode = code
	return nil
}

func drain(s *bvisor.Stream, dst *os.File, done chan<- struct{}) {
	for {
		chunk, ok := s.Next()
		if !ok {
			break
		}
		dst.Write(chunk)
	}
	done <- struct{}{}
}

func loadConfig() (*config.Config, error) {
	path := settingsPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg == nil {
		if settingsPath != "" {
			return nil, fmt.Errorf("settings file %s not found", settingsPath)
		}
		cfg = config.Default()
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:   false,
		DisableColors: !term.IsTerminal(int(os.Stderr.Fd())),
	})

	level := logrus.WarnLevel
	if cfg.LogLevel != "" {
		if parsed, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	if debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}

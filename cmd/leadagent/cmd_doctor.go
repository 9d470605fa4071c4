// This file contains the environment diagnosis command.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leadagent/internal/apikeys"
	"leadagent/internal/browser"
	"leadagent/internal/config"
	"leadagent/internal/proxy"
	"leadagent/internal/ratelimit"
)

var (
	doctorLive    bool
	doctorBrowser bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment and validate credentials",
	Long: `Inspects the bootstrapped environment: interpreter, virtual
environment, dependency manifest, log directory, browser binary, and
API keys. --live additionally validates the keys against the real
services; --browser additionally launches the browser headless.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorLive, "live", false, "Validate API keys against the live services")
	doctorCmd.Flags().BoolVar(&doctorBrowser, "browser", false, "Launch the browser as a smoke-test")
}

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type check struct {
	name string
	ok   bool
	note string
}

func report(c check) {
	mark := passStyle.Render("PASS")
	if !c.ok {
		mark = failStyle.Render("FAIL")
	}
	fmt.Printf("%s  %-24s %s\n", mark, c.name, noteStyle.Render(c.note))
}

func fileCheck(name, path string, wantDir bool) check {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return check{name: name, ok: false, note: path + " missing"}
	case wantDir && !info.IsDir():
		return check{name: name, ok: false, note: path + " is not a directory"}
	}
	return check{name: name, ok: true, note: path}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	checks := []check{}

	// Interpreter on PATH.
	if path, err := exec.LookPath(cfg.Bootstrap.Python); err == nil {
		checks = append(checks, check{name: "python interpreter", ok: true, note: path})
	} else {
		checks = append(checks, check{name: "python interpreter", ok: false, note: cfg.Bootstrap.Python + " not on PATH"})
	}

	checks = append(checks,
		fileCheck("virtual environment", cfg.Bootstrap.VenvDir, true),
		fileCheck("dependency manifest", cfg.Bootstrap.Requirements, false),
		fileCheck("log directory", cfg.Bootstrap.LogDir, true),
		fileCheck("playwright cli", filepath.Join(cfg.Bootstrap.VenvDir, "bin", "playwright"), false),
	)

	checks = append(checks, apiKeyCheck())
	checks = append(checks, browserChecks(ctx)...)
	if doctorLive {
		checks = append(checks, liveKeyChecks(ctx)...)
	}

	failed := 0
	for _, c := range checks {
		report(c)
		if !c.ok {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	fmt.Println(noteStyle.Render("all checks passed"))
	return nil
}

func apiKeyCheck() check {
	err := cfg.Validate()
	if err == nil {
		return check{name: "api keys present", ok: true, note: "apollo, rocketreach, openai"}
	}
	var missing *config.MissingKeysError
	if errors.As(err, &missing) {
		return check{name: "api keys present", ok: false, note: err.Error()}
	}
	return check{name: "api keys present", ok: false, note: err.Error()}
}

func browserChecks(ctx context.Context) []check {
	mgr := browser.NewManager(browser.Config{
		Bin:      cfg.Browser.Bin,
		Headless: cfg.Browser.Headless,
		Timeout:  cfg.Browser.Timeout(),
	})
	defer mgr.Close()

	checks := []check{}
	if mgr.Installed() {
		checks = append(checks, check{name: "browser binary", ok: true, note: "resolvable"})
	} else {
		checks = append(checks, check{name: "browser binary", ok: false, note: "not found, run: leadagent browser install"})
	}

	if doctorBrowser {
		version, err := mgr.Version(ctx)
		if err != nil {
			checks = append(checks, check{name: "browser launch", ok: false, note: err.Error()})
		} else {
			checks = append(checks, check{name: "browser launch", ok: true, note: version})
		}
	}
	return checks
}

func liveKeyChecks(ctx context.Context) []check {
	pool := proxy.NewManager(cfg.Proxies.RotationInterval(), cfg.Proxies.MaxFailures)
	for _, entry := range cfg.Proxies.List {
		pool.Add(proxy.Proxy{
			Host:     entry.Host,
			Port:     entry.Port,
			Username: entry.Username,
			Password: entry.Password,
		})
	}
	client, err := pool.Client(cfg.Browser.Timeout())
	if err != nil {
		logger.Warn("proxy client unavailable, using direct", zap.Error(err))
		client = nil
	}

	limiter := ratelimit.New(cfg.API.Apollo.RateLimit, cfg.Browser.MaxConcurrent)
	validator := apikeys.New(cfg.API, client, limiter)

	checks := []check{}
	if err := validator.ValidateApollo(ctx); err != nil {
		checks = append(checks, check{name: "apollo key (live)", ok: false, note: err.Error()})
	} else {
		checks = append(checks, check{name: "apollo key (live)", ok: true, note: "accepted"})
	}
	if err := validator.ValidateRocketReach(ctx); err != nil {
		checks = append(checks, check{name: "rocketreach key (live)", ok: false, note: err.Error()})
	} else {
		checks = append(checks, check{name: "rocketreach key (live)", ok: true, note: "accepted"})
	}
	return checks
}

// Package bootstrap prepares the local development environment for the
// sales agent: virtual environment, dependencies, browser binaries,
// and the log directory.
//
// The sequence is fixed and mirrors the project's original setup
// script: create venv, activate it, install the requirements manifest,
// run the automation library's browser installer, ensure the log
// directory. By default a failed step does not stop the ones after it;
// every step runs and the caller gets the full picture. Strict mode
// stops at the first failure instead.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"leadagent/internal/logging"
	"leadagent/internal/shell"
)

// Step names, in execution order.
const (
	StepCreateVenv      = "create venv"
	StepActivate        = "activate venv"
	StepInstallDeps     = "install dependencies"
	StepInstallBrowsers = "install browsers"
	StepEnsureLogDir    = "ensure log dir"
)

// Config holds the bootstrapper's paths and tools. All relative paths
// are resolved against Root.
type Config struct {
	Root         string        // working directory; empty = cwd
	Python       string        // interpreter used to create the venv
	VenvDir      string        // virtual environment directory
	Requirements string        // dependency manifest, read-only input
	LogDir       string        // log directory to ensure
	StepTimeout  time.Duration // per-step wall clock limit
	Strict       bool          // halt on first failure
}

// DefaultConfig matches the original setup script's fixed paths.
func DefaultConfig() Config {
	cwd, _ := os.Getwd()
	return Config{
		Root:         cwd,
		Python:       "python3",
		VenvDir:      "venv",
		Requirements: "requirements.txt",
		LogDir:       "logs",
		StepTimeout:  15 * time.Minute,
	}
}

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StatusOK      StepStatus = "ok"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// StepResult records one step's execution.
type StepResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Status   StepStatus    `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
	Err      error         `json:"-"`
}

// Failed reports whether the step ran and did not succeed.
func (r StepResult) Failed() bool {
	return r.Status == StatusFailed
}

// Bootstrapper runs the setup sequence.
type Bootstrapper struct {
	cfg  Config
	exec *shell.Executor

	// env is the environment all post-activation steps run with. It
	// starts as the parent environment and is mutated exactly once, by
	// the activation step.
	env []string
}

// New creates a bootstrapper. A nil executor gets a default one.
func New(cfg Config, exec *shell.Executor) *Bootstrapper {
	if cfg.Root == "" {
		cfg.Root, _ = os.Getwd()
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.VenvDir == "" {
		cfg.VenvDir = "venv"
	}
	if cfg.Requirements == "" {
		cfg.Requirements = "requirements.txt"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 15 * time.Minute
	}
	if exec == nil {
		exec = shell.NewExecutorWithConfig(shell.Config{
			DefaultWorkingDir: cfg.Root,
			DefaultTimeout:    cfg.StepTimeout,
		})
	}
	return &Bootstrapper{cfg: cfg, exec: exec, env: os.Environ()}
}

// VenvPath returns the absolute virtual environment path.
func (b *Bootstrapper) VenvPath() string {
	return filepath.Join(b.cfg.Root, b.cfg.VenvDir)
}

// LogDirPath returns the absolute log directory path.
func (b *Bootstrapper) LogDirPath() string {
	return filepath.Join(b.cfg.Root, b.cfg.LogDir)
}

// RequirementsPath returns the absolute manifest path.
func (b *Bootstrapper) RequirementsPath() string {
	return filepath.Join(b.cfg.Root, b.cfg.Requirements)
}

func (b *Bootstrapper) venvBin() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(b.VenvPath(), "Scripts")
	}
	return filepath.Join(b.VenvPath(), "bin")
}

// ActivatedEnv returns base with the venv's bin directory first on
// PATH, VIRTUAL_ENV set, and PYTHONHOME removed. This is what sourcing
// the venv's activate script does to a shell.
func ActivatedEnv(base []string, venvPath, venvBin string) []string {
	env := make([]string, 0, len(base)+2)
	var sawPath bool
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			env = append(env, kv)
			continue
		}
		switch {
		case strings.EqualFold(key, "PATH"):
			sawPath = true
			env = append(env, key+"="+venvBin+string(os.PathListSeparator)+kv[len(key)+1:])
		case key == "PYTHONHOME" || key == "VIRTUAL_ENV":
			// dropped; VIRTUAL_ENV is re-added below
		default:
			env = append(env, kv)
		}
	}
	if !sawPath {
		env = append(env, "PATH="+venvBin)
	}
	env = append(env, "VIRTUAL_ENV="+venvPath)
	return env
}

// Run executes the full sequence and returns every step's result. In
// permissive mode the returned error is always nil; callers inspect
// the results. In strict mode the first failure stops the run and is
// returned as the error.
func (b *Bootstrapper) Run(ctx context.Context) ([]StepResult, error) {
	timer := logging.StartTimer(logging.CategorySetup, "environment bootstrap")
	defer timer.StopWithInfo()

	steps := []struct {
		name string
		run  func(context.Context) StepResult
	}{
		{StepCreateVenv, b.createVenv},
		{StepActivate, b.activate},
		{StepInstallDeps, b.installDeps},
		{StepInstallBrowsers, b.installBrowsers},
		{StepEnsureLogDir, b.ensureLogDir},
	}

	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		result := step.run(ctx)
		results = append(results, result)

		if result.Failed() {
			logging.SetupWarn("step %q failed: exit=%d err=%v", result.Name, result.ExitCode, result.Err)
			if b.cfg.Strict {
				return results, fmt.Errorf("step %q failed: %w", result.Name, stepError(result))
			}
			continue
		}
		logging.Setup("step %q ok (%s)", result.Name, result.Duration.Round(time.Millisecond))
	}
	return results, nil
}

func stepError(r StepResult) error {
	if r.Err != nil {
		return r.Err
	}
	return fmt.Errorf("exit code %d", r.ExitCode)
}

// ExitCode returns the exit code of the last executed step, which is
// what the process as a whole reports in permissive mode. Steps that
// never started count as exit 1.
func ExitCode(results []StepResult) int {
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Status == StatusSkipped {
			continue
		}
		if r.ExitCode < 0 {
			return 1
		}
		return r.ExitCode
	}
	return 0
}

func (b *Bootstrapper) runCommand(ctx context.Context, name string, cmd shell.Command) StepResult {
	result, err := b.exec.Execute(ctx, cmd)
	if err != nil {
		return StepResult{
			Name:     name,
			Command:  cmd.String(),
			Status:   StatusFailed,
			ExitCode: -1,
			Err:      err,
		}
	}

	r := StepResult{
		Name:     name,
		Command:  cmd.String(),
		Status:   StatusOK,
		ExitCode: result.ExitCode,
		Duration: result.Duration,
		Output:   result.Output(),
	}
	if result.ExitCode != 0 {
		r.Status = StatusFailed
	}
	return r
}

func (b *Bootstrapper) createVenv(ctx context.Context) StepResult {
	logging.Setup("creating virtual environment at %s", b.VenvPath())
	return b.runCommand(ctx, StepCreateVenv, shell.Command{
		Binary:           b.cfg.Python,
		Arguments:        []string{"-m", "venv", b.VenvPath()},
		WorkingDirectory: b.cfg.Root,
		Timeout:          b.cfg.StepTimeout,
	})
}

// activate mutates the step environment in-process. There is no child
// process to run: activation is an environment change, nothing more.
func (b *Bootstrapper) activate(_ context.Context) StepResult {
	start := time.Now()
	b.env = ActivatedEnv(b.env, b.VenvPath(), b.venvBin())
	logging.SetupDebug("activated venv, PATH head=%s", b.venvBin())
	return StepResult{
		Name:     StepActivate,
		Command:  "source " + filepath.Join(b.venvBin(), "activate"),
		Status:   StatusOK,
		ExitCode: 0,
		Duration: time.Since(start),
	}
}

func (b *Bootstrapper) installDeps(ctx context.Context) StepResult {
	logging.Setup("installing dependencies from %s", b.cfg.Requirements)
	return b.runCommand(ctx, StepInstallDeps, shell.Command{
		Binary:           filepath.Join(b.venvBin(), "pip"),
		Arguments:        []string{"install", "-r", b.RequirementsPath()},
		WorkingDirectory: b.cfg.Root,
		Environment:      b.env,
		Timeout:          b.cfg.StepTimeout,
	})
}

func (b *Bootstrapper) installBrowsers(ctx context.Context) StepResult {
	logging.Setup("installing playwright browser binaries")
	return b.runCommand(ctx, StepInstallBrowsers, shell.Command{
		Binary:           filepath.Join(b.venvBin(), "playwright"),
		Arguments:        []string{"install"},
		WorkingDirectory: b.cfg.Root,
		Environment:      b.env,
		Timeout:          b.cfg.StepTimeout,
	})
}

func (b *Bootstrapper) ensureLogDir(_ context.Context) StepResult {
	start := time.Now()
	dir := b.LogDirPath()
	logging.SetupDebug("ensuring log directory %s", dir)

	r := StepResult{
		Name:     StepEnsureLogDir,
		Command:  "mkdir -p " + dir,
		Status:   StatusOK,
		ExitCode: 0,
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.Status = StatusFailed
		r.ExitCode = 1
		r.Err = err
	}
	r.Duration = time.Since(start)
	return r
}

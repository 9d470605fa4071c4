// This file contains the environment bootstrap command.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leadagent/internal/bootstrap"
	"leadagent/internal/logging"
	"leadagent/internal/shell"
)

var (
	setupStrict  bool
	setupPython  string
	setupVenv    string
	setupReqs    string
	setupLogDir  string
	setupTimeout time.Duration
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Bootstrap the development environment",
	Long: `Runs the environment bootstrap sequence:

  1. create the virtual environment
  2. activate it for the remaining steps
  3. pip install -r requirements.txt
  4. playwright install
  5. ensure the log directory exists

By default every step runs even if an earlier one failed, and the
process exits with the last step's exit code - the same behavior as
the original setup script. --strict stops at the first failure.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().BoolVar(&setupStrict, "strict", false, "Stop at the first failing step")
	setupCmd.Flags().StringVar(&setupPython, "python", "", "Python interpreter (default from config)")
	setupCmd.Flags().StringVar(&setupVenv, "venv", "", "Virtual environment directory (default from config)")
	setupCmd.Flags().StringVar(&setupReqs, "requirements", "", "Dependency manifest (default from config)")
	setupCmd.Flags().StringVar(&setupLogDir, "logs", "", "Log directory (default from config)")
	setupCmd.Flags().DurationVar(&setupTimeout, "timeout", 0, "Per-step timeout (default from config)")
}

var (
	stepOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stepFailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stepCommandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	summaryStyle     = lipgloss.NewStyle().Bold(true)
)

func setupConfig() bootstrap.Config {
	bc := bootstrap.DefaultConfig()
	bc.Python = cfg.Bootstrap.Python
	bc.VenvDir = cfg.Bootstrap.VenvDir
	bc.Requirements = cfg.Bootstrap.Requirements
	bc.LogDir = cfg.Bootstrap.LogDir
	bc.StepTimeout = cfg.Bootstrap.StepTimeoutDuration()

	if setupPython != "" {
		bc.Python = setupPython
	}
	if setupVenv != "" {
		bc.VenvDir = setupVenv
	}
	if setupReqs != "" {
		bc.Requirements = setupReqs
	}
	if setupLogDir != "" {
		bc.LogDir = setupLogDir
	}
	if setupTimeout > 0 {
		bc.StepTimeout = setupTimeout
	}
	bc.Strict = setupStrict
	return bc
}

func runSetup(cmd *cobra.Command, args []string) error {
	bc := setupConfig()
	logger.Info("bootstrapping environment",
		zap.String("python", bc.Python),
		zap.String("venv", bc.VenvDir),
		zap.Bool("strict", bc.Strict))

	b := bootstrap.New(bc, shell.NewExecutorWithConfig(shell.Config{
		DefaultWorkingDir: bc.Root,
		DefaultTimeout:    bc.StepTimeout,
	}))

	results, err := b.Run(cmd.Context())
	printStepResults(results)
	if err != nil {
		return err
	}

	if code := bootstrap.ExitCode(results); code != 0 {
		// Mirror the script: the process reports the last step's code.
		logging.Close()
		_ = logger.Sync()
		os.Exit(code)
	}
	fmt.Println(summaryStyle.Render("environment ready"))
	return nil
}

func printStepResults(results []bootstrap.StepResult) {
	for _, r := range results {
		mark := stepOKStyle.Render("✓")
		if r.Failed() {
			mark = stepFailStyle.Render("✗")
		}
		fmt.Printf("%s %-22s %s\n", mark, r.Name,
			stepCommandStyle.Render(fmt.Sprintf("%s (%s)", r.Command, r.Duration.Round(time.Millisecond))))
		if r.Failed() {
			if r.Err != nil {
				fmt.Printf("  %s\n", stepFailStyle.Render(r.Err.Error()))
			}
			if r.Output != "" {
				fmt.Printf("  %s\n", stepCommandStyle.Render(r.Output))
			}
		}
	}
}

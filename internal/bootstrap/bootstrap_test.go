package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"leadagent/internal/shell"
)

// writeStub drops an executable shell script at path.
func writeStub(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for stub: %v", err)
	}
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
}

// stubEnv builds a workspace where python, pip and playwright are all
// harmless stubs so the full sequence can run without a real
// interpreter.
func stubEnv(t *testing.T, pipBody, playwrightBody string) Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts require a POSIX shell")
	}

	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Root = root
	cfg.Python = filepath.Join(root, "stub-python")
	cfg.StepTimeout = 30 * time.Second

	writeStub(t, cfg.Python, "exit 0")

	venvBin := filepath.Join(root, "venv", "bin")
	writeStub(t, filepath.Join(venvBin, "pip"), pipBody)
	writeStub(t, filepath.Join(venvBin, "playwright"), playwrightBody)
	return cfg
}

func TestActivatedEnv(t *testing.T) {
	base := []string{
		"PATH=/usr/bin:/bin",
		"PYTHONHOME=/opt/py",
		"HOME=/home/u",
		"VIRTUAL_ENV=/stale",
	}
	env := ActivatedEnv(base, "/work/venv", "/work/venv/bin")

	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "PATH=/work/venv/bin"+string(os.PathListSeparator)+"/usr/bin:/bin") {
		t.Errorf("venv bin not first on PATH:\n%s", joined)
	}
	if strings.Contains(joined, "PYTHONHOME") {
		t.Errorf("PYTHONHOME should be removed:\n%s", joined)
	}
	if strings.Contains(joined, "VIRTUAL_ENV=/stale") {
		t.Errorf("stale VIRTUAL_ENV should be replaced:\n%s", joined)
	}
	if !strings.Contains(joined, "VIRTUAL_ENV=/work/venv") {
		t.Errorf("VIRTUAL_ENV missing:\n%s", joined)
	}
	if !strings.Contains(joined, "HOME=/home/u") {
		t.Errorf("unrelated variables must survive:\n%s", joined)
	}
}

func TestActivatedEnvWithoutPath(t *testing.T) {
	env := ActivatedEnv([]string{"HOME=/home/u"}, "/v", "/v/bin")
	if !strings.Contains(strings.Join(env, "\n"), "PATH=/v/bin") {
		t.Errorf("PATH should be created when absent: %v", env)
	}
}

func TestRunAllStepsSucceed(t *testing.T) {
	cfg := stubEnv(t, "exit 0", "exit 0")
	b := New(cfg, nil)

	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusOK {
			t.Errorf("step %q: status=%s exit=%d err=%v", r.Name, r.Status, r.ExitCode, r.Err)
		}
	}
	if ExitCode(results) != 0 {
		t.Errorf("expected overall exit 0, got %d", ExitCode(results))
	}

	if _, err := os.Stat(b.LogDirPath()); err != nil {
		t.Errorf("log directory missing: %v", err)
	}
}

func TestRunStepOrder(t *testing.T) {
	cfg := stubEnv(t, "exit 0", "exit 0")
	b := New(cfg, nil)

	results, _ := b.Run(context.Background())

	want := []string{StepCreateVenv, StepActivate, StepInstallDeps, StepInstallBrowsers, StepEnsureLogDir}
	for i, name := range want {
		if results[i].Name != name {
			t.Fatalf("step %d: want %q, got %q", i, name, results[i].Name)
		}
	}
}

func TestRunPermissiveContinuesAfterFailure(t *testing.T) {
	// pip fails the way it does when the manifest is missing; later
	// steps must still run and the log directory must still appear.
	cfg := stubEnv(t, "echo 'No such file' >&2; exit 1", "exit 0")
	b := New(cfg, nil)

	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("permissive mode must not return an error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected all 5 steps to run, got %d", len(results))
	}

	deps := results[2]
	if !deps.Failed() || deps.ExitCode != 1 {
		t.Errorf("install step should have failed with exit 1: %+v", deps)
	}
	if results[3].Status != StatusOK || results[4].Status != StatusOK {
		t.Errorf("later steps should still have run: %+v", results[3:])
	}
	if _, err := os.Stat(b.LogDirPath()); err != nil {
		t.Errorf("log directory should exist despite the install failure: %v", err)
	}

	// Exit code reflects the last executed step, which succeeded.
	if ExitCode(results) != 0 {
		t.Errorf("expected overall exit 0, got %d", ExitCode(results))
	}
}

func TestRunStrictStopsAtFirstFailure(t *testing.T) {
	cfg := stubEnv(t, "exit 1", "exit 0")
	cfg.Strict = true
	b := New(cfg, nil)

	results, err := b.Run(context.Background())
	if err == nil {
		t.Fatal("strict mode should surface the failure")
	}
	if len(results) != 3 {
		t.Fatalf("expected run to stop after the failing step, got %d results", len(results))
	}
	if results[2].Name != StepInstallDeps || !results[2].Failed() {
		t.Fatalf("unexpected failing step: %+v", results[2])
	}
}

func TestRunMissingPython(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts require a POSIX shell")
	}
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Root = root
	cfg.Python = filepath.Join(root, "no-such-python")
	cfg.StepTimeout = 10 * time.Second

	b := New(cfg, nil)
	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("permissive mode must not return an error: %v", err)
	}
	if !results[0].Failed() || results[0].Err == nil {
		t.Errorf("venv creation should fail without an interpreter: %+v", results[0])
	}
	// Everything downstream fails too, except activation (pure env
	// mutation) and the log directory.
	if results[1].Status != StatusOK {
		t.Errorf("activation is a pure env mutation and cannot fail: %+v", results[1])
	}
	if !results[2].Failed() || !results[3].Failed() {
		t.Errorf("install steps should fail without a venv: %+v", results[2:4])
	}
	if results[4].Status != StatusOK {
		t.Errorf("log dir step should still succeed: %+v", results[4])
	}
}

func TestRunIsRepeatable(t *testing.T) {
	cfg := stubEnv(t, "exit 0", "exit 0")
	b := New(cfg, nil)

	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Second run against the already-bootstrapped tree must not fail.
	b2 := New(cfg, nil)
	results, err := b2.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ExitCode(results) != 0 {
		t.Errorf("re-run should be clean, got exit %d", ExitCode(results))
	}
}

func TestExitCode(t *testing.T) {
	results := []StepResult{
		{Status: StatusFailed, ExitCode: 1},
		{Status: StatusOK, ExitCode: 0},
	}
	if ExitCode(results) != 0 {
		t.Errorf("last executed step wins")
	}

	results = []StepResult{
		{Status: StatusOK, ExitCode: 0},
		{Status: StatusFailed, ExitCode: 2},
	}
	if ExitCode(results) != 2 {
		t.Errorf("expected exit 2")
	}

	results = []StepResult{
		{Status: StatusFailed, ExitCode: 3},
		{Status: StatusSkipped},
	}
	if ExitCode(results) != 3 {
		t.Errorf("skipped steps do not count")
	}

	if ExitCode(nil) != 0 {
		t.Errorf("no results means exit 0")
	}
}

func TestEnsureLogDirIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	b := New(cfg, nil)

	for i := 0; i < 2; i++ {
		r := b.ensureLogDir(context.Background())
		if r.Status != StatusOK {
			t.Fatalf("run %d: %+v", i, r)
		}
	}
	info, err := os.Stat(b.LogDirPath())
	if err != nil || !info.IsDir() {
		t.Fatalf("log dir missing after ensure: %v", err)
	}
}

func TestShellExecutorIntegration(t *testing.T) {
	// New with a provided executor must honor its working dir default.
	cfg := stubEnv(t, "pwd; exit 0", "exit 0")
	exec := shell.NewExecutorWithConfig(shell.Config{
		DefaultWorkingDir: cfg.Root,
		DefaultTimeout:    time.Minute,
	})
	b := New(cfg, exec)
	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	root, err := filepath.EvalSymlinks(cfg.Root)
	if err != nil {
		root = cfg.Root
	}
	if !strings.Contains(results[2].Output, root) {
		t.Errorf("pip should run inside the project root, output=%q", results[2].Output)
	}
}

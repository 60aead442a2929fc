//go:build integration

// Package integration runs the keydance binary end to end.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// CLITestEnv is a private data directory plus a freshly built binary.
type CLITestEnv struct {
	T       *testing.T
	TempDir string
	DataDir string
	Config  string
	Bin     string
	Root    string
}

// NewCLITestEnv builds keydance into a temporary directory.
func NewCLITestEnv(t *testing.T) *CLITestEnv {
	t.Helper()

	// Unix socket paths are length limited; keep the data dir short.
	tempDir, err := os.MkdirTemp("", "kdit")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	root, err := getProjectRoot()
	if err != nil {
		t.Fatalf("find project root: %v", err)
	}

	env := &CLITestEnv{
		T:       t,
		TempDir: tempDir,
		DataDir: filepath.Join(tempDir, "data"),
		Config:  filepath.Join(tempDir, "config.toml"),
		Bin:     filepath.Join(tempDir, "keydance"),
		Root:    root,
	}

	cmd := exec.Command("go", "build", "-o", env.Bin, "./cmd/keydance")
	cmd.Dir = root
	cmd.Env = os.Environ()
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build keydance: %v\n%s", err, output)
	}
	return env
}

// Run executes keydance and returns combined output.
func (env *CLITestEnv) Run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, env.Bin, args...)
	cmd.Dir = env.TempDir
	cmd.Env = append(os.Environ(),
		"KEYDANCE_DATA_DIR="+env.DataDir,
		"KEYDANCE_STORAGE_PATH="+filepath.Join(env.DataDir, "keydance.db"),
		"KEYDANCE_LOG_PATH="+filepath.Join(env.DataDir, "keydance.log"),
		"KEYDANCE_OUTPUT=log",
		"HOME="+env.TempDir,
		"XDG_CONFIG_HOME="+filepath.Join(env.TempDir, "xdg"),
	)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Script returns the path of a shipped example script.
func (env *CLITestEnv) Script(name string) string {
	return filepath.Join(env.Root, "docs", "scripts", name)
}

func getProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found")
		}
		dir = parent
	}
}

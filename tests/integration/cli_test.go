//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// cliEnv builds the witnessd binary once per test and runs it with HOME
// pointed at an isolated temp directory, so config.WitnessdDir() never
// touches the real invoking user's home.
type cliEnv struct {
	t       *testing.T
	bin     string
	home    string
	workDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	projectRoot, err := filepath.Abs("../..")
	require.NoError(t, err)

	bin := filepath.Join(t.TempDir(), "witnessd")
	build := exec.Command("go", "build", "-o", bin, "./cmd/witnessd")
	build.Dir = projectRoot
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build witnessd: %v\n%s", err, out)
	}

	home := t.TempDir()
	work := t.TempDir()
	return &cliEnv{t: t, bin: bin, home: home, workDir: work}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := exec.Command(e.bin, args...)
	cmd.Dir = e.workDir
	cmd.Env = append(os.Environ(), "HOME="+e.home)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.workDir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestCLIInitCreatesIdentityAndConfig(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec-based CLI test assumes a unix-style HOME override")
	}
	env := newCLIEnv(t)

	out, err := env.run("init")
	require.NoError(t, err, out)
	require.Contains(t, out, "witnessd initialized!")

	require.FileExists(t, filepath.Join(env.home, ".witnessd", "signing_key"))
	require.FileExists(t, filepath.Join(env.home, ".witnessd", "identity.json"))
	require.FileExists(t, filepath.Join(env.home, ".witnessd", "config.json"))
}

func TestCLICommitLogExportVerifyRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec-based CLI test assumes a unix-style HOME override")
	}
	env := newCLIEnv(t)

	out, err := env.run("init")
	require.NoError(t, err, out)

	docPath := env.writeFile("draft.txt", "chapter one")

	out, err = env.run("commit", docPath, "-duration", "0s")
	require.NoError(t, err, out)
	require.Contains(t, out, "Sealing checkpoint")

	out, err = env.writeFileAndCommit(docPath, "chapter one, revised")
	require.NoError(t, err, out)

	out, err = env.run("log", docPath)
	require.NoError(t, err, out)
	require.Contains(t, out, "Checkpoint History")
	require.Contains(t, out, "Checkpoints: 2")

	out, err = env.run("export", docPath, "-tier", "basic")
	require.NoError(t, err, out)
	require.Contains(t, out, "Evidence packet exported")

	evidencePath := docPath + ".pop"
	require.FileExists(t, evidencePath)

	out, err = env.run("verify", evidencePath, "-level", "quick")
	require.NoError(t, err, out)
	require.Contains(t, strings.ToLower(out), "valid")
}

// writeFileAndCommit overwrites the document and seals a new checkpoint
// for it, returning the commit command's combined output.
func (e *cliEnv) writeFileAndCommit(path, content string) (string, error) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0600))
	return e.run("commit", path, "-duration", "0s")
}

func TestCLIStatusReflectsInitialization(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec-based CLI test assumes a unix-style HOME override")
	}
	env := newCLIEnv(t)

	out, err := env.run("status")
	require.NoError(t, err, out)
	require.Contains(t, out, "Not initialized")

	_, err = env.run("init")
	require.NoError(t, err)

	out, err = env.run("status")
	require.NoError(t, err, out)
	require.Contains(t, out, "Master identity")
	require.Contains(t, out, "Device ID")
}

func TestCLICalibrateWritesConfig(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec-based CLI test assumes a unix-style HOME override")
	}
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	out, err := env.run("calibrate")
	require.NoError(t, err, out)
	require.Contains(t, out, "Calibration saved")

	data, err := os.ReadFile(filepath.Join(env.home, ".witnessd", "config.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"calibrated": true`)
}

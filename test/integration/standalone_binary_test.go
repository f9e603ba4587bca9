package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles cmd/faultline into a fresh temp dir.
func buildBinary(t *testing.T) string {
	t.Helper()
	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err)
	root := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", root, "go env GOMOD returned nothing")

	bin := filepath.Join(t.TempDir(), "faultline")
	build := exec.Command("go", "build", "-o", bin, "./cmd/faultline")
	build.Dir = root
	out, err := build.CombinedOutput()
	require.NoError(t, err, string(out))
	return bin
}

func runBinary(t *testing.T, dir, bin string, args ...string) string {
	t.Helper()
	c := exec.Command(bin, args...)
	c.Dir = dir
	c.Env = append(os.Environ(), "HOME="+dir, "XDG_CONFIG_HOME="+filepath.Join(dir, ".config"))
	out, err := c.CombinedOutput()
	require.NoError(t, err, "faultline %s\n%s", strings.Join(args, " "), out)
	return string(out)
}

func TestStandaloneBinaryRunsOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec test is unix-only")
	}
	bin := buildBinary(t)
	outside := t.TempDir()

	assert.Contains(t, runBinary(t, outside, bin, "version"), "faultline")
	assert.Contains(t, runBinary(t, outside, bin, "--help"), "notify")

	configPath := filepath.Join(outside, "config.yaml")
	runBinary(t, outside, bin, "doctor", "init", "--config", configPath)
	require.FileExists(t, configPath)

	shown := runBinary(t, outside, bin, "config", "show", "--config", configPath)
	assert.Contains(t, shown, "notify.bugsnag.com")
}

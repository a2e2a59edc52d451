package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeFlow(t *testing.T) {
	stateDir := t.TempDir()
	binaryPath := buildBinary(t)
	require.NoError(t, writeConfigFixture(stateDir))

	stdout, stderr, err := runRotor(t, binaryPath, stateDir, "version")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.NotEmpty(t, stdout)

	stdout, stderr, err = runRotor(t, binaryPath, stateDir, "pool", "seed", "--kind", "account")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Seeded account pool with 2 resources")

	_, stderr, err = runRotor(t, binaryPath, stateDir,
		"account", "set-credential",
		"--account", "account-001",
		"--secret-value", "hunter2",
	)
	require.NoError(t, err, "stderr: %s", stderr)

	stdout, stderr, err = runRotor(t, binaryPath, stateDir, "account", "list")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "rotor://accounts/account-001")

	stdout, stderr, err = runRotor(t, binaryPath, stateDir, "run", "--addr", "127.0.0.1:0", "--duration", "500ms", "--sessions", "1")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "fleet stopped:")
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "rotor-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/rotor")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build rotor binary: %s", string(output))
	return binaryPath
}

func runRotor(t *testing.T, binaryPath, stateDir string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, append([]string{"--state-dir", stateDir}, args...)...)
	cmd.Env = append(os.Environ(), "ROTOR_LOG_LEVEL=warn")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func writeConfigFixture(stateDir string) error {
	config := `[pool]
accounts = 2
routes = 4
fingerprints = 2

[driver]
failure_rate = 0.0
latency = "1ms"
`

	return os.WriteFile(filepath.Join(stateDir, "config.toml"), []byte(config), 0o600)
}

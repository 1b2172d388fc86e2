package cli

import (
	"bytes"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pxaudio/pxctl/internal/mockdevice"
)

func startDevice(t *testing.T) *httptest.Server {
	t.Helper()
	dev := mockdevice.New(nil)
	srv := httptest.NewServer(dev.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func hostPort(t *testing.T, srv *httptest.Server) (string, string) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return host, port
}

// runCmd runs one pxctl invocation against srv and captures its output.
func runCmd(t *testing.T, srv *httptest.Server, args ...string) (int, string, string) {
	t.Helper()
	for _, key := range []string{"PXCTL_TARGET", "PXCTL_PORT", "PXCTL_TIMEOUT_MS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	host, port := hostPort(t, srv)
	app := New()
	var stdout, stderr bytes.Buffer
	app.Stdout = &stdout
	app.Stderr = &stderr

	full := append([]string{"-t", host, "-p", port}, args...)
	code := app.Run(full)
	return code, stdout.String(), stderr.String()
}

func TestAPIPing(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "api", "ping")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "pong")
}

func TestAPIPingQuiet(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "-q", "api", "ping")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "\"pong\"\n", out)
}

func TestAPIVersion(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "api", "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, `"api_version"`)
	assert.Contains(t, out, `"firmware_version"`)
}

func TestSetupGetResource(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "setup", "get", "speaker", "--channel", "2")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Speaker 2")
}

func TestSetupGetAll(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "setup", "get", "all")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, `"summing_matrix"`)
	assert.Contains(t, out, `"generator"`)
}

func TestSetupGetRequiresChannel(t *testing.T) {
	srv := startDevice(t)
	code, _, errOut := runCmd(t, srv, "setup", "get", "speaker")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "--channel is required")
}

func TestSetupSetAndGet(t *testing.T) {
	srv := startDevice(t)
	code, _, _ := runCmd(t, srv, "setup", "set", "speaker", "--channel", "1", "gain=-3.5", "mute=true")
	require.Equal(t, ExitOK, code)

	code, out, _ := runCmd(t, srv, "-q", "setup", "get", "speaker", "--channel", "1")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, `"gain":-3.5`)
	assert.Contains(t, out, `"mute":true`)
}

func TestSetupSetEnumRejected(t *testing.T) {
	srv := startDevice(t)
	code, _, errOut := runCmd(t, srv, "setup", "set", "speaker", "--channel", "1", "ways=5way")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "not one of")
}

func TestSetupSetUnknownField(t *testing.T) {
	srv := startDevice(t)
	code, _, errOut := runCmd(t, srv, "setup", "set", "power", "volume=11")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "has no field")
}

func TestSetupList(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "setup", "list")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "speaker-user-eq-band")
	assert.Contains(t, out, "/audio/output/speaker/{channel}/user/eq/bands/{band}")
}

func TestUnknownCommand(t *testing.T) {
	srv := startDevice(t)
	code, _, errOut := runCmd(t, srv, "frobnicate")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestConnectRefused(t *testing.T) {
	app := New()
	var stdout, stderr bytes.Buffer
	app.Stdout = &stdout
	app.Stderr = &stderr
	// Reserve a port and close it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	code := app.Run([]string{"-t", "127.0.0.1", "-p", strconv.Itoa(port), "api", "ping"})
	assert.Equal(t, ExitConnect, code)
}

func TestRPCErrorExitCode(t *testing.T) {
	srv := startDevice(t)
	path := filepath.Join(t.TempDir(), "bad-backup.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nope":1}`), 0o644))

	code, _, errOut := runCmd(t, srv, "backup", "restore", "-f", path)
	assert.Equal(t, ExitRPC, code)
	assert.Contains(t, errOut, "rpc error")
}

func TestStatusGetSection(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "status", "get", "info")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "PX4-000123")
}

func TestStatusGetAll(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "status", "get", "all")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, `"firmware"`)
}

func TestDeviceTime(t *testing.T) {
	srv := startDevice(t)
	code, _, _ := runCmd(t, srv, "device", "time", "set", "-t", "2026-08-31T12:00:00Z")
	require.Equal(t, ExitOK, code)

	code, out, _ := runCmd(t, srv, "device", "time", "show")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "2026-08-31T12:00:00Z")
}

func TestDeviceTimeBadStamp(t *testing.T) {
	srv := startDevice(t)
	code, _, errOut := runCmd(t, srv, "device", "time", "set", "-t", "yesterday")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "bad timestamp")
}

func TestDeviceRebootAssumeYes(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "device", "reboot", "-y")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "ok")
}

func TestDeviceFindMe(t *testing.T) {
	srv := startDevice(t)
	code, _, _ := runCmd(t, srv, "device", "find-me", "-t", "10")
	assert.Equal(t, ExitOK, code)
}

func TestPresetShowAndClear(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "preset", "show", "--channel", "3")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, `"clip_limiter"`)

	code, _, _ = runCmd(t, srv, "preset", "clear", "--channel", "3")
	assert.Equal(t, ExitOK, code)
}

func TestPresetChannelValidation(t *testing.T) {
	srv := startDevice(t)
	code, _, errOut := runCmd(t, srv, "preset", "show", "--channel", "9")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "--channel must be 1..4")
}

func TestPresetCreateApplyRoundTrip(t *testing.T) {
	srv := startDevice(t)
	path := filepath.Join(t.TempDir(), "preset.json")

	code, _, _ := runCmd(t, srv, "preset", "create", "--channel", "1", "--name", "club", "-f", path)
	require.Equal(t, ExitOK, code)

	code, _, _ = runCmd(t, srv, "preset", "apply", "--channel", "2", "-f", path)
	assert.Equal(t, ExitOK, code)
}

func TestLogsGet(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "logs", "get", "--limit", "2")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "control api ready")
	assert.NotContains(t, out, "system boot")
}

func TestLogsSetLevel(t *testing.T) {
	srv := startDevice(t)
	code, _, _ := runCmd(t, srv, "logs", "set-level", "warning")
	assert.Equal(t, ExitOK, code)

	code, _, errOut := runCmd(t, srv, "logs", "set-level", "loud")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "unknown log level")
}

func TestMetricsShow(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "metrics", "show")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "metrics_update")
	assert.Contains(t, out, "/audio/output/speaker/1/level")
}

func TestBackupCreateRestore(t *testing.T) {
	srv := startDevice(t)
	path := filepath.Join(t.TempDir(), "backup.json")

	code, _, _ := runCmd(t, srv, "backup", "create", "-f", path)
	require.Equal(t, ExitOK, code)

	code, _, _ = runCmd(t, srv, "backup", "restore", "-f", path)
	assert.Equal(t, ExitOK, code)
}

func TestSetupBatchCreateApply(t *testing.T) {
	srv := startDevice(t)
	path := filepath.Join(t.TempDir(), "setup.batch")

	code, _, _ := runCmd(t, srv, "setup", "batch", "create", "-f", path)
	require.Equal(t, ExitOK, code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# speaker channel 1")

	code, out, _ := runCmd(t, srv, "setup", "batch", "apply", "-f", path)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "0 failed")
}

func TestSetupBatchApplyReportsFailures(t *testing.T) {
	srv := startDevice(t)
	path := filepath.Join(t.TempDir(), "bad.batch")
	content := `{"method":"setup_set","params":{"path":"/power/standby_timeout","value":600}}
{"method":"nonsense_method"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	code, out, errOut := runCmd(t, srv, "setup", "batch", "apply", "-f", path)
	assert.Equal(t, ExitRPC, code)
	assert.Contains(t, out, "1 succeeded, 1 failed")
	assert.Contains(t, errOut, "line 2")
}

func TestDiagnostics(t *testing.T) {
	srv := startDevice(t)
	code, out, _ := runCmd(t, srv, "diagnostics", "get")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "temperature_c")
}

func TestSetupSubscribeDwell(t *testing.T) {
	srv := startDevice(t)
	// No changes arrive; the loop exits on the dwell timer.
	code, out, _ := runCmd(t, srv, "setup", "subscribe", "--for", "200ms", "/power")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "subscribed")
}

func TestFwupd(t *testing.T) {
	srv := startDevice(t)
	img := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(img, bytes.Repeat([]byte{0xAB}, 32*1024), 0o644))

	code, out, _ := runCmd(t, srv, "device", "fwupd", "-f", img)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "32,768 / 32,768 bytes")
	assert.Contains(t, out, "uploaded 32768 bytes")
}

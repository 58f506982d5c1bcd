//go:build e2e

package e2e

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/strata/pkg/strata"
)

const e2eAPIKey = "e2e-test-api-key"

// strataServer manages a running Strata server process.
type strataServer struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	logFile string
}

// startStrata launches the Strata binary on a fresh data directory and waits
// for it to become healthy. The server is configured entirely via environment
// variables.
func startStrata(t *testing.T) *strataServer {
	t.Helper()
	if strataBin == "" {
		t.Skip("strata binary not available (set STRATA_BIN or add to PATH)")
	}
	return launch(t, t.TempDir(), "strata.log")
}

// restartOnSameData stops the server and starts a new one using the same data directory.
func (s *strataServer) restartOnSameData(t *testing.T) *strataServer {
	t.Helper()
	s.stop()
	time.Sleep(200 * time.Millisecond) // allow port release
	return launch(t, s.dataDir, "strata-restart.log")
}

func launch(t *testing.T, dataDir, logName string) *strataServer {
	t.Helper()

	port := freePort(t)
	logFile := filepath.Join(dataDir, logName)

	cmd := exec.Command(strataBin, "serve")
	cmd.Env = append(os.Environ(), serverEnv(dataDir, port)...)

	lf, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start strata: %v", err)
	}

	s := &strataServer{
		cmd:     cmd,
		dataDir: dataDir,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		logFile: logFile,
	}
	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("strata not healthy: %v\n%s", err, s.logs())
	}
	return s
}

func serverEnv(dataDir string, port int) []string {
	return []string{
		fmt.Sprintf("STRATA_PORT=%d", port),
		"STRATA_DB_PATH=" + filepath.Join(dataDir, "strata.db"),
		"STRATA_API_KEY=" + e2eAPIKey,
		"STRATA_CONFIG_PATH=" + filepath.Join(dataDir, "nonexistent.yaml"), // skip YAML file
	}
}

func (s *strataServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

func (s *strataServer) baseURL() string {
	return "http://" + s.address
}

func (s *strataServer) dbPath() string {
	return filepath.Join(s.dataDir, "strata.db")
}

func (s *strataServer) logs() string {
	data, _ := os.ReadFile(s.logFile)
	return string(data)
}

// client returns an API client acting for orgID.
func (s *strataServer) client(t *testing.T, orgID string) *strata.Client {
	t.Helper()
	c, err := strata.New(strata.Config{
		BaseURL:        s.baseURL(),
		APIKey:         e2eAPIKey,
		OrganizationID: orgID,
		Timeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func (s *strataServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/api/v1/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("strata not healthy after %s", timeout)
}

// runCLI runs a strata subcommand against dbPath and returns its stdout.
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(strataBin, args...)
	cmd.Env = append(os.Environ(),
		"STRATA_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"),
		"STRATA_DB_PATH="+filepath.Join(dataDir, "strata.db"),
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return string(out), fmt.Errorf("%v: %s", err, stderr.String())
	}
	return string(out), nil
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioInfra struct {
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
}

func (m minioInfra) env() []string {
	return []string{
		"DASHBOARD_EXPORT_ENABLED=true",
		"DASHBOARD_MINIO_ENDPOINT=" + m.endpoint,
		"DASHBOARD_MINIO_ACCESS_KEY=" + m.accessKey,
		"DASHBOARD_MINIO_SECRET_KEY=" + m.secretKey,
		"DASHBOARD_MINIO_USE_SSL=false",
		"DASHBOARD_MINIO_BUCKET_LOGS=" + m.bucket,
	}
}

func (m minioInfra) client(t *testing.T) *minio.Client {
	t.Helper()
	client, err := minio.New(m.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.accessKey, m.secretKey, ""),
		Secure: false,
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}
	return client
}

// ensureMinIO returns an external MinIO from DASHBOARD_E2E_MINIO_* or starts
// one in docker. It skips the test when neither is available.
func ensureMinIO(t *testing.T) minioInfra {
	t.Helper()
	bucket := strings.TrimSpace(os.Getenv("DASHBOARD_E2E_MINIO_BUCKET_LOGS"))
	if bucket == "" {
		bucket = "run-logs"
	}
	if endpoint := strings.TrimSpace(os.Getenv("DASHBOARD_E2E_MINIO_ENDPOINT")); endpoint != "" {
		accessKey := strings.TrimSpace(os.Getenv("DASHBOARD_E2E_MINIO_ACCESS_KEY"))
		secretKey := strings.TrimSpace(os.Getenv("DASHBOARD_E2E_MINIO_SECRET_KEY"))
		if accessKey == "" || secretKey == "" {
			t.Fatalf("DASHBOARD_E2E_MINIO_ACCESS_KEY and DASHBOARD_E2E_MINIO_SECRET_KEY are required with an external minio")
		}
		return minioInfra{endpoint: endpoint, accessKey: accessKey, secretKey: secretKey, bucket: bucket}
	}
	if strings.TrimSpace(os.Getenv("DASHBOARD_E2E_SKIP_DOCKER")) == "1" {
		t.Skip("docker infra is disabled (DASHBOARD_E2E_SKIP_DOCKER=1); set DASHBOARD_E2E_MINIO_* to run")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not found; set DASHBOARD_E2E_MINIO_* to run without docker")
	}

	const (
		rootUser     = "dashboard-root"
		rootPassword = "dashboard-root-password"
	)
	name := fmt.Sprintf("dashboard-e2e-minio-%d", time.Now().UnixNano())
	image := strings.TrimSpace(os.Getenv("DASHBOARD_E2E_MINIO_IMAGE"))
	if image == "" {
		image = "minio/minio:latest"
	}
	run := exec.Command("docker", "run",
		"-d",
		"--rm",
		"--name", name,
		"-e", "MINIO_ROOT_USER="+rootUser,
		"-e", "MINIO_ROOT_PASSWORD="+rootPassword,
		"-p", "127.0.0.1:0:9000",
		image,
		"server", "/data",
	)
	out, err := run.CombinedOutput()
	if err != nil {
		t.Fatalf("docker run minio: %v\n%s", err, string(out))
	}
	t.Cleanup(func() { _ = exec.Command("docker", "rm", "-f", name).Run() })

	endpoint := fmt.Sprintf("127.0.0.1:%d", dockerHostPort(t, name, "9000/tcp"))
	waitHTTP200(t, fmt.Sprintf("http://%s/minio/health/ready", endpoint), 20*time.Second)
	return minioInfra{endpoint: endpoint, accessKey: rootUser, secretKey: rootPassword, bucket: bucket}
}

func dockerHostPort(t *testing.T, containerName, portProto string) int {
	t.Helper()
	cmd := exec.Command("docker", "inspect", "-f", fmt.Sprintf("{{(index (index .NetworkSettings.Ports %q) 0).HostPort}}", portProto), containerName)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("docker inspect %s: %v\n%s", containerName, err, string(out))
	}
	raw := strings.TrimSpace(string(out))
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 {
		t.Fatalf("invalid port mapping for %s (%s): %q", containerName, portProto, raw)
	}
	return port
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime.Caller failed")
	}
	return filepath.Dir(filepath.Dir(file))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitHTTP200(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", url)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// lockedBuffer collects process output written from the exec goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startDashboard builds and runs the dashboard binary with env and waits for
// /readyz.
func startDashboard(t *testing.T, env ...string) (string, *lockedBuffer) {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "dashboard.bin")
	build := exec.Command("go", "build", "-o", bin, "./dashboard")
	build.Dir = repoRoot(t)
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build ./dashboard: %v\n%s", err, string(out))
	}

	addr := freeAddr(t)
	out := &lockedBuffer{}
	cmd := exec.Command(bin, "serve")
	cmd.Env = append(os.Environ(), "DASHBOARD_HTTP_ADDR="+addr)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start dashboard: %v", err)
	}
	t.Cleanup(func() { stopProcess(t, cmd, out) })

	base := "http://" + addr
	waitHTTP200(t, base+"/readyz", 8*time.Second)
	return base, out
}

func stopProcess(t *testing.T, cmd *exec.Cmd, out *lockedBuffer) {
	t.Helper()
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	case err := <-done:
		if err != nil {
			body := out.String()
			if len(body) > 8000 {
				body = body[len(body)-8000:]
			}
			t.Fatalf("process exit: %v\n%s", err, body)
		}
	}
}

func statObject(t *testing.T, m minioInfra, key string) minio.ObjectInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := m.client(t).StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		t.Fatalf("stat %s/%s: %v", m.bucket, key, err)
	}
	return info
}

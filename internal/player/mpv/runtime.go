// Package mpv runs each widget as an mpv process controlled over its JSON
// IPC socket.
package mpv

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/retry"
)

// Config describes how to launch mpv
type Config struct {
	Binary         string
	SocketDir      string
	URLTemplate    string // %s is replaced by the item id
	ExtraArgs      []string
	CommandTimeout time.Duration
	DialRetry      retry.Config
}

// DefaultConfig returns settings for a windowed mpv playing YouTube ids
func DefaultConfig() Config {
	return Config{
		Binary:         "mpv",
		SocketDir:      os.TempDir(),
		URLTemplate:    "https://www.youtube.com/watch?v=%s",
		CommandTimeout: 2 * time.Second,
		DialRetry: retry.Config{
			MaxRetries:     20,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			Multiplier:     1.5,
		},
	}
}

// Runtime launches mpv instances
type Runtime struct {
	cfg    Config
	logger *logging.Logger

	mu   sync.Mutex
	path string
}

// NewRuntime creates an mpv runtime
func NewRuntime(cfg Config, logger *logging.Logger) *Runtime {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = def.SocketDir
	}
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = def.URLTemplate
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.DialRetry.MaxRetries == 0 {
		cfg.DialRetry = def.DialRetry
	}
	return &Runtime{cfg: cfg, logger: logging.OrDefault(logger).WithField("runtime", "mpv")}
}

func (r *Runtime) Name() string { return "mpv" }

// Bootstrap locates the binary and checks that it runs
func (r *Runtime) Bootstrap(ctx context.Context) error {
	path, err := exec.LookPath(r.cfg.Binary)
	if err != nil {
		return fmt.Errorf("mpv binary not found: %w", err)
	}
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return fmt.Errorf("mpv --version failed: %w", err)
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	version := strings.SplitN(string(out), "\n", 2)[0]
	r.logger.Info("mpv runtime loaded", logging.Fields{"path": path, "version": version})
	return nil
}

// URL returns the media address for an item
func (r *Runtime) URL(itemID string) string {
	if strings.Contains(r.cfg.URLTemplate, "%s") {
		return fmt.Sprintf(r.cfg.URLTemplate, itemID)
	}
	return r.cfg.URLTemplate + itemID
}

// NewWidget starts an idle mpv process and loads itemID into it
func (r *Runtime) NewWidget(surface player.Surface, itemID string, start float64, events player.WidgetEvents) (player.Widget, error) {
	if surface == nil || !surface.Attached() {
		return nil, player.ErrNoSurface
	}
	r.mu.Lock()
	path := r.path
	r.mu.Unlock()
	if path == "" {
		return nil, fmt.Errorf("mpv runtime not bootstrapped")
	}

	socket := filepath.Join(r.cfg.SocketDir, "shotread-mpv-"+uuid.NewString()[:8]+".sock")
	args := append([]string{
		"--idle=yes",
		"--keep-open=yes",
		"--pause",
		"--no-terminal",
		"--input-ipc-server=" + socket,
	}, r.cfg.ExtraArgs...)

	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mpv: %w", err)
	}
	proc := &instance{cmd: cmd, socket: socket, logger: r.logger}
	go proc.wait()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CommandTimeout*5)
	defer cancel()

	var conn net.Conn
	err := retry.Do(ctx, r.cfg.DialRetry, func() error {
		if proc.exited() {
			return fmt.Errorf("mpv exited before opening its socket")
		}
		c, err := net.Dial("unix", socket)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		proc.kill()
		return nil, fmt.Errorf("failed to connect to mpv: %w", err)
	}

	w, err := newWidget(ctx, conn, itemID, start, events, r.URL, r.cfg.CommandTimeout)
	if err != nil {
		proc.kill()
		return nil, err
	}
	w.onClose = proc.kill
	r.logger.Debug("mpv instance started", logging.Fields{"pid": cmd.Process.Pid, "socket": socket, "item_id": itemID})
	return w, nil
}

// instance is one mpv child process
type instance struct {
	cmd    *exec.Cmd
	socket string
	logger *logging.Logger

	mu   sync.Mutex
	done bool
}

func (p *instance) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
	os.Remove(p.socket)
	if err != nil {
		p.logger.Debug("mpv exited", logging.Fields{"pid": p.cmd.Process.Pid, "error": err})
	}
}

func (p *instance) exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// kill terminates the process if quit did not end it
func (p *instance) kill() error {
	pid := int32(p.cmd.Process.Pid)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if p.exited() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	alive, err := process.PidExists(pid)
	if err != nil || !alive {
		return err
	}
	p.logger.Warn("mpv did not quit, killing", logging.Fields{"pid": pid})
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill mpv %d: %w", pid, err)
	}
	return nil
}

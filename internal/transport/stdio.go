package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/vmcpmesh/gateway/pkg/logger"
)

// StdioConfig is the launch configuration for a child-process transport.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

// Stdio spawns a child process and frames messages as newline-delimited
// JSON over its stdin/stdout, forwarding stderr to a log sink
// (spec §4.A.1, §6.2).
type Stdio struct {
	base
	cfg StdioConfig

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
}

// NewStdio constructs a STDIO transport for cfg. Callers are expected to
// have already checked meshconfig.Config.StdioAllowed.
func NewStdio(cfg StdioConfig) *Stdio {
	return &Stdio{cfg: cfg}
}

// Start spawns the child process and begins forwarding its stdout lines
// as incoming messages and its stderr lines to the logger.
func (s *Stdio) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	if s.cfg.Cwd != "" {
		cmd.Dir = s.cfg.Cwd
	}
	if len(s.cfg.Env) > 0 {
		env := cmd.Environ()
		for k, v := range s.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdio transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdio transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stdio transport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stdio transport: start %s: %w", s.cfg.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin

	go s.readLoop(stdout)
	go s.forwardStderr(stderr)
	go s.waitLoop()

	return nil
}

func (s *Stdio) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		s.deliver(buf)
	}
	if err := scanner.Err(); err != nil {
		s.closeWith(fmt.Errorf("stdio transport: read: %w", err))
		return
	}
	// EOF: the child process closed stdout (spec §6.2).
	s.closeWith(nil)
}

func (s *Stdio) forwardStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Infow("stdio backend stderr", "command", s.cfg.Command, "line", scanner.Text())
	}
}

func (s *Stdio) waitLoop() {
	if s.cmd == nil {
		return
	}
	err := s.cmd.Wait()
	s.closeWith(err)
}

// Send writes msg newline-delimited to the child's stdin.
func (s *Stdio) Send(_ context.Context, msg Message) error {
	if s.isClosed() {
		return ErrTransportClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(msg); err != nil {
		return fmt.Errorf("stdio transport: write: %w", err)
	}
	if _, err := s.stdin.Write([]byte("\n")); err != nil {
		return fmt.Errorf("stdio transport: write newline: %w", err)
	}
	return nil
}

// Close terminates the child process.
func (s *Stdio) Close() error {
	s.closeWith(nil)
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}

package terminal

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// PTY is the external collaborator that the Connection Adapter drives: a
// single shell process attached to a pseudo-terminal. It has no knowledge
// of sessions, buffers, or connections — only of bytes in and bytes out.
type PTY struct {
	ptmx    *os.File
	cmd     *exec.Cmd
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	usePgrp bool
}

// StartPTY launches command (or the default shell, if empty) inside a new
// pseudo-terminal sized cols x rows, rooted at workingDir.
func StartPTY(command, workingDir string, cols, rows uint16) (*PTY, error) {
	shell := command
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
	}

	cmd := exec.Command("sh", "-c", shell)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	env := append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = env

	// Process groups let Close kill every descendant, not just the shell
	// (a backgrounded dev server would otherwise survive the session).
	usePgrp := runtime.GOOS == "linux"
	if usePgrp {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	return &PTY{
		ptmx:    ptmx,
		cmd:     cmd,
		closeCh: make(chan struct{}),
		usePgrp: usePgrp,
	}, nil
}

func (p *PTY) Read(buf []byte) (int, error) {
	return p.ptmx.Read(buf)
}

func (p *PTY) Write(data []byte) (int, error) {
	return p.ptmx.Write(data)
}

// Resize changes the terminal dimensions of the running PTY.
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Done closes once Close has been called. A shell that exits on its own
// does not close it; the PTY does not watch the process.
func (p *PTY) Done() <-chan struct{} {
	return p.closeCh
}

// Close terminates the shell and every process in its group, then waits
// for exit. Idempotent.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeCh)

	if p.ptmx != nil {
		_ = p.ptmx.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		pid := p.cmd.Process.Pid
		if p.usePgrp {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		} else {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	}
	return nil
}

// PID returns the underlying shell process id, or 0 if it never started.
func (p *PTY) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

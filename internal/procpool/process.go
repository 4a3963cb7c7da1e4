package procpool

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// process is one child OS process speaking the line protocol.
type process struct {
	index int
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Reader
	busy  atomic.Bool

	mu     sync.Mutex
	exited chan struct{}
}

func startProcess(index int, cfg Config) (*process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	p := &process{
		index:  index,
		cmd:    cmd,
		stdin:  stdin,
		out:    bufio.NewReaderSize(stdout, 64*1024),
		exited: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// PID returns the child's process id.
func (p *process) PID() int {
	return p.cmd.Process.Pid
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// roundTrip writes one request and reads its response.
// A non-nil error means the pipe is broken and the process must be discarded.
func (p *process) roundTrip(req request) (response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return response{}, err
	}

	for {
		line, err := p.out.ReadBytes('\n')
		if err != nil {
			return response{}, err
		}
		if len(line) > maxFrameSize {
			return response{}, errors.New("response frame too large")
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return response{}, fmt.Errorf("decode response: %w", err)
		}
		if resp.ID != req.ID {
			// A reply to a call abandoned by a previous broken exchange.
			continue
		}
		return resp, nil
	}
}

// stop closes stdin so the child exits on EOF, then kills it after timeout.
func (p *process) stop(timeout time.Duration) {
	_ = p.stdin.Close()

	select {
	case <-p.exited:
		return
	case <-time.After(timeout):
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
		return
	case <-time.After(timeout / 2):
	}

	_ = p.cmd.Process.Kill()
	<-p.exited
}

// IsRunning reports whether a process with pid exists.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

package mcp

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// process owns one provider child process: its OS-level lifetime, its
// stdin/stdout protocol streams, and a bounded capture of its stderr.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *ringBuffer

	// done is closed after Wait returns; waitErr holds the exit error.
	done    chan struct{}
	waitErr error

	termOnce sync.Once
}

// startProcess spawns the provider in its own process group so that
// signaling it never touches the orchestrator's own group. The child's
// environment is the inherited one with config entries merged over it.
func startProcess(cfg ProviderConfig) (*process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}

	ring := newRingBuffer(8 * 1024)
	cmd.Stderr = ring

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, cfg.Command, err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: ring,
		done:   make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// write sends bytes to the provider's stdin.
func (p *process) write(b []byte) error {
	_, err := p.stdin.Write(b)
	return err
}

// exited reports whether the process has terminated.
func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// stderrTail returns the captured tail of the provider's stderr, for
// diagnostics. Stderr is never part of the protocol stream.
func (p *process) stderrTail() string {
	return strings.TrimSpace(p.stderr.String())
}

// terminate requests a graceful exit by closing stdin and signaling the
// process, escalating to a kill if it has not exited after grace. It is
// idempotent and always returns within roughly the grace period.
func (p *process) terminate(grace time.Duration) {
	p.termOnce.Do(func() {
		p.stdin.Close()

		select {
		case <-p.done:
			return
		case <-time.After(50 * time.Millisecond):
		}

		signalTerm(p.cmd)

		select {
		case <-p.done:
		case <-time.After(grace):
			p.cmd.Process.Kill()
			<-p.done
		}
	})
}

// mergeEnv layers overrides on top of the inherited environment. Explicit
// entries always win over inherited ones.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, kv)
	}
	for k, v := range overrides {
		merged = append(merged, k+"="+v)
	}
	return merged
}

// ringBuffer is a fixed-capacity byte sink that retains the most recent
// writes. Safe for one writer and concurrent readers.
type ringBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (r *ringBuffer) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, b...)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
	return len(b), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

package uci

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Transport is an opaque bidirectional line channel to a search engine. Lines
// yields inbound lines until the channel is closed; a closed channel means
// the transport is gone for good.
type Transport interface {
	Send(line string) error
	Lines() <-chan string
	Close() error
}

// Dialer opens a fresh Transport. Sessions dial a new transport on every
// Start so a faulted engine can be replaced by restarting the session.
type Dialer func() (Transport, error)

// NewProcessDialer returns a Dialer that launches the engine binary and wires
// its stdin/stdout as the line channel.
func NewProcessDialer(binaryPath string) (Dialer, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	return func() (Transport, error) {
		return dialProcess(binaryPath)
	}, nil
}

type procTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string

	mu     sync.Mutex
	closed bool
}

func dialProcess(binaryPath string) (Transport, error) {
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	t := &procTransport{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
	}

	go func() {
		scanner := bufio.NewScanner(stdoutPipe)
		// Deep multi-line searches produce very long pv lines.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			t.lines <- scanner.Text()
		}
		close(t.lines)
	}()

	return t, nil
}

func (t *procTransport) Send(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	_, err := io.WriteString(t.stdin, line+"\n")
	return err
}

func (t *procTransport) Lines() <-chan string { return t.lines }

func (t *procTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}

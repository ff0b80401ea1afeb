package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	lineBuffer          = 256
)

var ErrClosed = errors.New("engine process closed")

type Options struct {
	Threads int
	HashMB  int
}

// Process is a running UCI engine. Commands are written with Send; every
// stdout line after the handshake is delivered on Lines in arrival order.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	lines  chan string
	done   chan struct{}
	pumped chan struct{}
}

func StartProcess(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Process, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, binaryPath)
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

	p := newProcess(stdin, stdoutPipe, logger)
	p.cmd = cmd

	if err := p.initialize(ctx, opt); err != nil {
		p.Close()
		return nil, err
	}
	go p.pump()
	return p, nil
}

func newProcess(stdin io.WriteCloser, stdout io.Reader, logger *zap.Logger) *Process {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Process{
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: logger,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		pumped: make(chan struct{}),
	}
}

// Lines streams engine output. The channel is closed when the engine's
// stdout ends.
func (p *Process) Lines() <-chan string { return p.lines }

// Send writes one command line.
func (p *Process) Send(command string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.logger.Debug("uci_send", zap.String("cmd", command))
	_, err := io.WriteString(p.stdin, strings.TrimRight(command, "\n")+"\n")
	return err
}

func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	if p.stdin != nil {
		_, _ = io.WriteString(p.stdin, "quit\n")
		p.stdin.Close()
	}
	p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

// pump forwards stdout to Lines until the engine's output ends or the
// process is closed; a reader that stopped consuming does not block it.
func (p *Process) pump() {
	defer close(p.pumped)
	defer close(p.lines)
	for {
		line, err := p.stdout.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			select {
			case p.lines <- trimmed:
			case <-p.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("uci_read_error", zap.Error(err))
			}
			return
		}
	}
}

func (p *Process) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := p.Send("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := p.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	if err := p.applyOptions(opt); err != nil {
		return err
	}

	if err := p.Send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return p.Send("ucinewgame")
}

func (p *Process) applyOptions(opt Options) error {
	threadCount := opt.Threads
	if threadCount <= 0 {
		threadCount = 1
	}
	cmds := []string{
		SetOptionCommand("Threads", threadCount),
		SetOptionCommand("Hash", opt.HashMB),
	}
	for _, cmd := range cmds {
		if err := p.Send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func validateOptions(opt Options) error {
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	return nil
}

// awaitToken is only used during the handshake, before pump owns stdout.
func (p *Process) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (p *Process) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := p.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagiedev/agentlink/internal/errors"
)

const (
	// DefaultMaxLineSize bounds a single output line.
	DefaultMaxLineSize = 1024 * 1024 // 1MB
	// DefaultGracePeriod is how long Close waits after SIGTERM before killing.
	DefaultGracePeriod = 5 * time.Second

	// maxStderrBufferSize caps retained stderr. The callback still sees every line.
	maxStderrBufferSize = 10 * 1024 * 1024 // 10MB
	// stderrDrainTimeout bounds the wait for stderr after the process exits.
	stderrDrainTimeout = time.Second
)

// Command describes how to launch the agent process.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Option configures a Transport.
type Option func(*Transport)

// WithStderrCallback streams each stderr line to fn.
func WithStderrCallback(fn func(string)) Option {
	return func(t *Transport) { t.stderrCallback = fn }
}

// WithMaxLineSize sets the largest accepted output line in bytes.
func WithMaxLineSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxLineSize = n
		}
	}
}

// WithGracePeriod sets the delay between SIGTERM and SIGKILL on Close.
func WithGracePeriod(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.gracePeriod = d
		}
	}
}

// Transport runs the agent as a child process and exchanges JSON lines over
// its stdin and stdout.
type Transport struct {
	log            *slog.Logger
	command        Command
	maxLineSize    int
	gracePeriod    time.Duration
	stderrCallback func(string)

	// writeMu serializes writes. It is never held together with a wait on
	// mu, so Close can close stdin under a blocked write.
	writeMu sync.Mutex

	mu          sync.Mutex // guards the fields below
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinClosed bool
	closing     bool

	stdout *os.File
	stderr *os.File

	reading    atomic.Bool
	exited     chan struct{}
	waitErr    error
	stderrDone chan struct{}
	stderrMu   sync.Mutex
	stderrBuf  strings.Builder

	closeOnce sync.Once
}

// New creates a transport for command. Nothing is spawned until Start.
func New(log *slog.Logger, command Command, opts ...Option) *Transport {
	t := &Transport{
		log:         log.With("component", "transport"),
		command:     command,
		maxLineSize: DefaultMaxLineSize,
		gracePeriod: DefaultGracePeriod,
		exited:      make(chan struct{}),
		stderrDone:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start spawns the process. The context only bounds the launch itself;
// the process lives until Close or until it exits.
func (t *Transport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return fmt.Errorf("transport already started")
	}

	cmd := exec.Command(t.command.Path, t.command.Args...)
	cmd.Env = t.command.Env
	cmd.Dir = t.command.Dir
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.LaunchError{Path: t.command.Path, Err: err}
	}

	// Plain OS pipes rather than cmd.StdoutPipe: Wait must be callable
	// before all output is read.
	outR, outW, err := os.Pipe()
	if err != nil {
		return &errors.LaunchError{Path: t.command.Path, Err: err}
	}

	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()

		return &errors.LaunchError{Path: t.command.Path, Err: err}
	}

	cmd.Stdout = outW
	cmd.Stderr = errW

	t.log.Debug("starting agent process", "path", t.command.Path, "args", t.command.Args, "dir", t.command.Dir)

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}

		return &errors.LaunchError{Path: t.command.Path, Err: err}
	}

	_ = outW.Close()
	_ = errW.Close()

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = outR
	t.stderr = errR

	t.log.Info("agent process started", "pid", cmd.Process.Pid)

	go t.wait()
	go t.drainStderr()

	return nil
}

func (t *Transport) wait() {
	t.waitErr = t.cmd.Wait()
	close(t.exited)

	t.log.Debug("agent process exited", "error", t.waitErr)
}

func (t *Transport) drainStderr() {
	defer close(t.stderrDone)

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		line := scanner.Text()

		t.stderrMu.Lock()
		if t.stderrBuf.Len() < maxStderrBufferSize {
			if t.stderrBuf.Len() > 0 {
				t.stderrBuf.WriteByte('\n')
			}

			t.stderrBuf.WriteString(line)
		}
		t.stderrMu.Unlock()

		if t.stderrCallback != nil {
			t.stderrCallback(line)
		}
	}

	if err := scanner.Err(); err != nil && !t.isClosing() {
		t.log.Debug("stderr scanner error", "error", err)
	}
}

// ReadMessages returns the decoded output of the process, one JSON object
// per line.
//
// A malformed line yields a *errors.DecodeError and reading continues. The
// sequence ends when the process closes its output. If the process exited
// abnormally and was not being closed, a final *errors.ProcessError is
// yielded. Only one reader may be active at a time.
func (t *Transport) ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		t.mu.Lock()
		stdout := t.stdout
		t.mu.Unlock()

		if stdout == nil {
			yield(nil, errors.ErrTransportNotStarted)

			return
		}

		if !t.reading.CompareAndSwap(false, true) {
			yield(nil, errors.ErrAlreadyReading)

			return
		}
		defer t.reading.Store(false)

		scanner := bufio.NewScanner(stdout)
		// Scanner's limit is the larger of max and cap(buf).
		scanner.Buffer(make([]byte, 0, min(64*1024, t.maxLineSize)), t.maxLineSize)

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)

				return
			}

			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			msg, err := decodeLine(line)
			if err != nil {
				t.log.Debug("undecodable output line", "error", err)
			}

			if !yield(msg, err) {
				return
			}
		}

		if err := scanner.Err(); err != nil && !t.isClosing() {
			t.log.Error("agent output framing broken", "error", err)
			yield(nil, fmt.Errorf("read agent output: %w", err))

			return
		}

		if err := t.exitError(ctx); err != nil {
			yield(nil, err)
		}
	}
}

func decodeLine(line []byte) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, &errors.DecodeError{Line: string(line), Err: err}
	}

	if msg == nil {
		return nil, &errors.DecodeError{Line: string(line), Err: stderrors.New("not a JSON object")}
	}

	return msg, nil
}

// exitError waits for the process after its output closed and reports an
// abnormal exit.
func (t *Transport) exitError(ctx context.Context) error {
	select {
	case <-t.exited:
	case <-ctx.Done():
		return nil
	}

	select {
	case <-t.stderrDone:
	case <-time.After(stderrDrainTimeout):
		t.log.Warn("stderr not drained after process exit")
	}

	if t.waitErr == nil || t.isClosing() {
		return nil
	}

	exitCode := -1
	if exitErr, ok := stderrors.AsType[*exec.ExitError](t.waitErr); ok {
		exitCode = exitErr.ExitCode()
	}

	stderr := t.Stderr()

	t.log.Error("agent process exited with error", "exit_code", exitCode, "stderr", stderr)

	return &errors.ProcessError{ExitCode: exitCode, Stderr: stderr, Err: t.waitErr}
}

// SendMessage writes one line to the process input. A trailing newline is
// added when missing. Writes are serialized.
//
// A cancelled context during a blocked write closes stdin; later writes
// fail with errors.ErrTransportClosed. Close also unblocks a pending write.
func (t *Transport) SendMessage(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	stdin, err := t.writable()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	line := make([]byte, len(data), len(data)+1)
	copy(line, data)

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(line)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = t.closeStdin()

			return fmt.Errorf("write to stdin: %w: %w", errors.ErrTransportClosed, err)
		}

		return nil
	case <-ctx.Done():
		t.log.Debug("context cancelled during write, closing stdin")

		_ = t.closeStdin()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.log.Warn("write goroutine did not exit after stdin close")
		}

		return ctx.Err()
	}
}

// writable returns stdin if a write may start.
func (t *Transport) writable() (io.Writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil {
		return nil, errors.ErrTransportNotStarted
	}

	if t.stdinClosed || t.closing {
		return nil, errors.ErrTransportClosed
	}

	select {
	case <-t.exited:
		return nil, errors.ErrTransportClosed
	default:
	}

	return t.stdin, nil
}

// closeStdin closes stdin once. Closing the pipe fails any write blocked
// on it.
func (t *Transport) closeStdin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil || t.stdinClosed {
		return nil
	}

	t.stdinClosed = true

	return t.stdin.Close()
}

// EndInput closes stdin. The process may keep producing output.
func (t *Transport) EndInput() error {
	return t.closeStdin()
}

// IsReady reports whether the process is running with stdin open.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.stdinClosed || t.closing {
		return false
	}

	select {
	case <-t.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the process has exited.
func (t *Transport) Exited() <-chan struct{} {
	return t.exited
}

// Stderr returns the retained stderr output.
func (t *Transport) Stderr() string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()

	return strings.TrimSpace(t.stderrBuf.String())
}

// Close closes stdin, asks the process to terminate, and kills it if it is
// still running after the grace period. It waits for the exit. Calling Close
// again is a no-op.
func (t *Transport) Close() error {
	t.closeOnce.Do(t.stop)

	return nil
}

func (t *Transport) stop() {
	t.mu.Lock()
	t.closing = true
	cmd := t.cmd
	t.mu.Unlock()

	_ = t.closeStdin()

	if cmd == nil {
		return
	}

	defer t.closeOutput()

	select {
	case <-t.exited:
		return
	default:
	}

	if err := terminate(cmd.Process); err != nil {
		t.log.Debug("terminate signal failed", "error", err)
	}

	select {
	case <-t.exited:
		t.log.Debug("agent process stopped", "pid", cmd.Process.Pid)
	case <-time.After(t.gracePeriod):
		t.log.Warn("agent process ignored terminate, killing", "pid", cmd.Process.Pid, "grace", t.gracePeriod)

		if err := kill(cmd.Process); err != nil {
			t.log.Error("kill agent process", "error", err)
		}

		<-t.exited
	}
}

// closeOutput releases the read ends so readers blocked on descendants that
// inherited the pipes return.
func (t *Transport) closeOutput() {
	_ = t.stdout.Close()
	_ = t.stderr.Close()
}

func (t *Transport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closing
}

// signalProcess sends sig and treats an already-exited process as success.
func signalProcess(proc *os.Process, sig os.Signal) error {
	if err := proc.Signal(sig); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}

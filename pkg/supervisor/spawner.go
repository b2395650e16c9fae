package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

// ErrSpawn wraps every failure to start a worker process.
var ErrSpawn = errors.New("failed to spawn worker")

// Stream identifies which pipe of a worker produced an OutputLine.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// OutputLine is one line written by a worker.
type OutputLine struct {
	Tube   string
	Stream Stream
	Text   string
}

// Process is a running worker.
type Process interface {
	Tube() string
	Pid() int
	// Exited reports without blocking whether the process has terminated
	// and its output has been fully forwarded.
	Exited() bool
	// Done is closed once Exited would return true.
	Done() <-chan struct{}
	// Interrupt asks the process to drain and exit.
	Interrupt() error
	// Err returns the wait error after Done is closed.
	Err() error
}

// Spawner starts worker processes. Every line a worker writes is sent to
// output until the process exits.
type Spawner interface {
	Spawn(tube string, output chan<- OutputLine) (Process, error)
}

// ExecConfig describes the worker command line.
type ExecConfig struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are placed before "work <tube>".
	Args  []string
	Stats bool
	// Env is the worker environment; nil inherits the supervisor's.
	Env []string
	Dir string
}

// ExecSpawner starts workers as "<executable> [args] work <tube> [--stats]".
type ExecSpawner struct {
	config ExecConfig
	log    logger.Logger
}

// NewExecSpawner resolves the executable and returns a spawner.
func NewExecSpawner(cfg ExecConfig, log logger.Logger) (*ExecSpawner, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.Executable) == "" {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		cfg.Executable = executable
	}
	cfg.Args = append([]string(nil), cfg.Args...)
	return &ExecSpawner{config: cfg, log: log}, nil
}

// Command returns the argument vector used for tube, executable first.
func (s *ExecSpawner) Command(tube string) []string {
	args := make([]string, 0, len(s.config.Args)+4)
	args = append(args, s.config.Executable)
	args = append(args, s.config.Args...)
	args = append(args, "work", tube)
	if s.config.Stats {
		args = append(args, "--stats")
	}
	return args
}

func (s *ExecSpawner) Spawn(tube string, output chan<- OutputLine) (Process, error) {
	argv := s.Command(tube)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = s.config.Env
	cmd.Dir = s.config.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w for tube %s: %w", ErrSpawn, tube, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w for tube %s: %w", ErrSpawn, tube, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w for tube %s: %w", ErrSpawn, tube, err)
	}

	proc := &execProcess{tube: tube, cmd: cmd, done: make(chan struct{})}

	var readers errgroup.Group
	readers.Go(func() error { return forward(tube, StreamStdout, stdout, output) })
	readers.Go(func() error { return forward(tube, StreamStderr, stderr, output) })

	go func() {
		// Pipes must be drained before Wait closes them.
		readErr := readers.Wait()
		waitErr := cmd.Wait()
		if readErr != nil {
			s.log.Warn("worker output read failed", "tube", tube, "error", readErr)
		}
		proc.finish(waitErr)
	}()

	return proc, nil
}

func forward(tube string, stream Stream, r io.Reader, output chan<- OutputLine) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		output <- OutputLine{Tube: tube, Stream: stream, Text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("read worker %s: %w", stream, err)
	}
	return nil
}

type execProcess struct {
	tube string
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Tube() string { return p.tube }

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Interrupt() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

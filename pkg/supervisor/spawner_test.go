package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/queuevisor/pkg/coordination"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

const helperEnv = "QUEUEVISOR_WANT_HELPER_PROCESS"

// TestHelperProcess is not a real test. It stands in for the worker binary
// when the test executable is spawned by ExecSpawner.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 || args[1] != "work" {
		fmt.Fprintf(os.Stderr, "unexpected arguments %v\n", os.Args)
		os.Exit(2)
	}
	tube := args[2]
	fmt.Printf("worker for %s\n", tube)
	if len(args) > 3 && args[3] == "--stats" {
		fmt.Println("stats enabled")
	}
	fmt.Fprintf(os.Stderr, "Job 1 failed: %s\n", tube)
	os.Exit(0)
}

func newHelperSpawner(t *testing.T, stats bool) *ExecSpawner {
	t.Helper()
	spawner, err := NewExecSpawner(ExecConfig{
		Executable: os.Args[0],
		Args:       []string{"-test.run=^TestHelperProcess$", "--"},
		Stats:      stats,
		Env:        append(os.Environ(), helperEnv+"=1"),
	}, logger.Nop())
	if err != nil {
		t.Fatalf("NewExecSpawner() error = %v", err)
	}
	return spawner
}

func TestExecSpawner_Command(t *testing.T) {
	spawner, err := NewExecSpawner(ExecConfig{Executable: "/usr/bin/queuevisor", Args: []string{"--config", "/etc/qv.yaml"}, Stats: true}, logger.Nop())
	if err != nil {
		t.Fatalf("NewExecSpawner() error = %v", err)
	}
	want := []string{"/usr/bin/queuevisor", "--config", "/etc/qv.yaml", "work", "emails", "--stats"}
	if got := spawner.Command("emails"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Command() = %v, want %v", got, want)
	}
}

func TestExecSpawner_DefaultsToRunningBinary(t *testing.T) {
	spawner, err := NewExecSpawner(ExecConfig{}, logger.Nop())
	if err != nil {
		t.Fatalf("NewExecSpawner() error = %v", err)
	}
	if spawner.Command("emails")[0] == "" {
		t.Fatal("expected the running executable")
	}
}

func TestExecSpawner_ForwardsOutput(t *testing.T) {
	spawner := newHelperSpawner(t, true)
	output := make(chan OutputLine, 16)

	proc, err := spawner.Spawn("emails", output)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("helper process did not exit")
	}
	if err := proc.Err(); err != nil {
		t.Fatalf("helper exited with %v", err)
	}
	if !proc.Exited() || proc.Pid() == 0 {
		t.Fatalf("unexpected process state exited=%v pid=%d", proc.Exited(), proc.Pid())
	}
	close(output)

	var stdout, stderr []string
	for line := range output {
		if line.Tube != "emails" {
			t.Fatalf("unexpected tube %q", line.Tube)
		}
		switch line.Stream {
		case StreamStdout:
			stdout = append(stdout, line.Text)
		case StreamStderr:
			stderr = append(stderr, line.Text)
		}
	}
	if !reflect.DeepEqual(stdout, []string{"worker for emails", "stats enabled"}) {
		t.Fatalf("unexpected stdout lines %v", stdout)
	}
	if !reflect.DeepEqual(stderr, []string{"Job 1 failed: emails"}) {
		t.Fatalf("unexpected stderr lines %v", stderr)
	}
}

func TestExecSpawner_MissingExecutable(t *testing.T) {
	spawner, err := NewExecSpawner(ExecConfig{Executable: "/nonexistent/queuevisor"}, logger.Nop())
	if err != nil {
		t.Fatalf("NewExecSpawner() error = %v", err)
	}
	if _, err := spawner.Spawn("emails", make(chan OutputLine, 1)); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestSupervisor_RelaysWorkerProcessOutput(t *testing.T) {
	flags, err := coordination.NewFlags(coordination.NewMemoryStore(), coordination.FlagKeys{})
	if err != nil {
		t.Fatalf("NewFlags() error = %v", err)
	}
	// Raised up front so every worker retires after its first exit.
	_ = flags.Stop(context.Background())

	var stdout, stderr bytes.Buffer
	s, err := New(newHelperSpawner(t, false), flags, logger.Nop(),
		Config{Tubes: []string{"emails", "reports"}, PollInterval: time.Millisecond},
		WithOutput(&stdout, &stderr))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not return")
	}

	for _, want := range []string{"worker for emails", "worker for reports", "Running worker for tube: reports"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("expected %q in stdout %q", want, stdout.String())
		}
	}
	if !strings.Contains(stderr.String(), "Job 1 failed: reports") {
		t.Fatalf("expected relayed stderr, got %q", stderr.String())
	}
}

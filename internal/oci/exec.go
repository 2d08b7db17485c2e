package oci

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Runs a command inside the working container, returning the exit code and
// captured stderr.
//
// The staged ENV and WORKDIR are applied on top of the container's own OCI
// spec. A non-zero exit code is not treated as an error; the caller decides.
func (w *working) execCommand(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) (int, string, error) {
	pspec, err := w.buildProcessSpec(ctx, args...)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	var stderr bytes.Buffer
	exitCode, err := w.execProcess(ctx, pspec, stdin, stdout, &stderr)
	if err != nil {
		return 0, "", err
	}
	return exitCode, stderr.String(), nil
}

// Helper that runs a command and fails on a non-zero exit code, including
// desc in the error.
func (w *working) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	exitCode, stderr, err := w.execCommand(ctx, stdin, stdout, args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s failed with exit code %d (%s)", ErrBackend, desc, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// Builds an OCI process spec for running a command inside the container.
//
// The base values are copied from the container's own spec, then the staged
// environment and working directory are overlaid.
func (w *working) buildProcessSpec(ctx context.Context, args ...string) (*specs.Process, error) {
	ctr, err := w.client.LoadContainer(ctx, w.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if env := w.environ(); len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if w.workdir != "" {
		pspec.Cwd = w.workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))

	put := func(entry string) {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			return
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}

	for _, entry := range base {
		put(entry)
	}
	for _, entry := range overrides {
		put(entry)
	}

	result := make([]string, 0, len(order))
	for _, k := range order {
		result = append(result, k+"="+merged[k])
	}
	return result
}

// Starts a process inside the container's running task, waits for it to
// exit, and returns the exit code.
//
// The process attaches to the long-running task started at container
// creation. Nil streams are replaced with io.Discard (stdout/stderr) or
// left disconnected (stdin). When stdin is provided, the container's stdin
// is explicitly closed after the reader returns EOF so the exec process
// receives the EOF signal; the containerd shim holds both ends of the
// stdin FIFO open and will not propagate EOF on its own.
func (w *working) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := w.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var stdinDone <-chan struct{}
	if stdin != nil {
		dr := newDoneReader(stdin)
		stdin = dr
		stdinDone = dr.done
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	return awaitProcess(ctx, process, stdinDone)
}

// Loads the container's running task.
func (w *working) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := w.client.LoadContainer(ctx, w.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	return task, nil
}

// Waits for an exec process to exit and returns the exit code.
//
// The process is always deleted before returning. If stdinDone is non-nil,
// the process stdin is closed when the channel fires.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	if stdinDone != nil {
		go func() {
			<-stdinDone
			process.CloseIO(ctx, containerd.WithStdinCloser)
		}()
	}

	exitStatus := <-statusC
	process.Delete(ctx)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	return int(code), nil
}

// Wraps an [io.Reader] and signals when it returns [io.EOF].
//
// The done channel is closed exactly once on the first EOF, making it safe
// to use from multiple goroutines.
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

// Creates a new [doneReader] wrapping the given reader.
func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

// Delegates to the underlying reader.
//
// Closes the done channel on the first [io.EOF]. Non-EOF errors are
// returned without closing the channel.
func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}

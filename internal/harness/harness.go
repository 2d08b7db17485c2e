package harness

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/boxkit/boxkit/internal/definition"
	"github.com/boxkit/boxkit/internal/oci"
	"github.com/boxkit/boxkit/internal/paths"
	"github.com/boxkit/boxkit/internal/runconfig"
)

// Environment variables set for the definition subprocess.
const (
	EnvPath   = "BOXKIT_BUILD_PATH"   // Absolute path of the definition.
	EnvDir    = "BOXKIT_BUILD_DIR"    // Directory containing the definition.
	EnvHash   = "BOXKIT_BUILD_HASH"   // Content digest of the definition.
	EnvTree   = "BOXKIT_BUILD_TREE"   // Tree digest over the dependency chain.
	EnvName   = "BOXKIT_BUILD_NAME"   // Definition name.
	EnvSocket = "BOXKIT_BUILD_SOCKET" // Path of the build socket.
)

// Serializes commits racing for the same image name.
type CommitGate func(imageName string, commit func() error) error

// One build of one definition: a private directive socket plus the shell
// subprocess that talks to it.
//
// An Execution is single-use. The zero values of the exported fields are
// not usable; the driver fills them in.
type Execution struct {
	Backend oci.Backend
	Def     *definition.Definition
	Tree    digest.Digest
	Presets *runconfig.Presets
	Gate    CommitGate

	working oci.WorkingContainer
	config  runconfig.Sequence
	images  []string

	mu        sync.Mutex
	handleErr error  // First handler error, if any.
	stage     string // Directive being processed when handleErr was set.
}

// Runs the definition to completion and returns the committed image names.
//
// The directive socket is created, the definition's shell is spawned with
// the build environment and the definition's directory as its working
// directory, and directives are served until the subprocess exits. A
// handler error or a non-zero exit aborts the build: any working container
// is destroyed and a [BuildFailedError] names the failing stage.
func (e *Execution) Run(ctx context.Context) ([]string, error) {
	socketPath, listener, err := e.listen()
	if err != nil {
		return nil, err
	}
	defer func() {
		listener.Close()
		os.Remove(socketPath)
	}()

	go e.serve(ctx, listener)

	e.warnMissingDirectives()

	slog.Debug("build started", "definition", e.Def.Name, "socket", socketPath)

	if err := e.runShell(ctx, socketPath); err != nil {
		e.abort(ctx)
		return nil, err
	}

	if e.working != nil {
		// The script ended without committing its container.
		e.abort(ctx)
		return nil, &BuildFailedError{
			Definition: e.Def.Name,
			Stage:      "exit",
			Err:        fmt.Errorf("%w: definition ended without COMMIT", ErrHarness),
		}
	}

	return e.images, nil
}

// Creates the per-execution Unix socket in the runtime directory.
func (e *Execution) listen() (string, net.Listener, error) {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrHarness, err)
	}

	socketPath := filepath.Join(paths.Runtime(), fmt.Sprintf("build-%s-%d.sock", e.Def.Name, os.Getpid()))
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to listen on %s: %w", ErrHarness, socketPath, err)
	}

	return socketPath, listener, nil
}

// Accepts directive connections until the listener closes.
func (e *Execution) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		e.handle(ctx, conn)
	}
}

// Processes a single directive exchange.
//
// Reads one newline-delimited JSON envelope, dispatches it, and writes the
// reply. The connection closes after one exchange. The first handler error
// is retained so the failure surfaces with its stage even though the shell
// only sees a non-zero exit.
func (e *Execution) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		e.respond(conn, Reply{OK: false, Error: err.Error()})
		return
	}

	env, err := DecodeEnvelope(line)
	if err != nil {
		e.respond(conn, Reply{OK: false, Error: err.Error()})
		return
	}

	slog.Debug("directive received", "definition", e.Def.Name, "directive", env.Directive, "args", env.Args)

	if err := e.dispatch(ctx, env); err != nil {
		e.recordError(env.Directive, err)
		e.respond(conn, Reply{OK: false, Error: err.Error()})
		return
	}

	e.respond(conn, Reply{OK: true})
}

// Writes a reply frame to the connection.
func (e *Execution) respond(conn net.Conn, reply Reply) {
	data, err := Encode(reply)
	if err != nil {
		slog.Error("encode reply failed", "error", err)
		return
	}
	conn.Write(data)
}

// Retains the first handler error and its directive.
func (e *Execution) recordError(directive string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handleErr == nil {
		e.handleErr = err
		e.stage = directive
	}
}

// Spawns the definition's shell and waits for it.
func (e *Execution) runShell(ctx context.Context, socketPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHarness, err)
	}

	argv := shellCommand(e.Def, exe)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.Def.Dir()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		EnvPath+"="+e.Def.Path,
		EnvDir+"="+e.Def.Dir(),
		EnvHash+"="+e.Def.Hash.String(),
		EnvTree+"="+e.Tree.String(),
		EnvName+"="+e.Def.Name,
		EnvSocket+"="+socketPath,
	)

	err = cmd.Run()

	e.mu.Lock()
	handleErr, stage := e.handleErr, e.stage
	e.mu.Unlock()

	if handleErr != nil {
		return &BuildFailedError{Definition: e.Def.Name, Stage: stage, Err: handleErr}
	}
	if err != nil {
		return &BuildFailedError{Definition: e.Def.Name, Stage: "shell", Err: err}
	}
	return nil
}

// Warns when the script never mentions FROM or COMMIT.
//
// Such a definition can still run, but it produces no image, so every
// pass considers it stale.
func (e *Execution) warnMissingDirectives() {
	for _, directive := range []string{"FROM", "COMMIT"} {
		if !scriptMentions(e.Def.Body, directive) {
			slog.Warn("definition never invokes directive", "definition", e.Def.Name, "directive", directive)
		}
	}
}

// Reports whether any line of the script starts with the given word.
func scriptMentions(body, word string) bool {
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == word {
			return true
		}
	}
	return false
}

// Destroys the working container left by an aborted build.
//
// The abort often runs because ctx was cancelled; destruction happens on a
// detached context so the backend calls still go through.
func (e *Execution) abort(ctx context.Context) {
	if e.working == nil {
		return
	}
	e.working.Destroy(context.WithoutCancel(ctx))
	e.working = nil
}

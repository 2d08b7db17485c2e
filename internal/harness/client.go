package harness

import (
	"bufio"
	"fmt"
	"net"
	"os"
)

// Forwards a directive to the build socket of the enclosing build.
//
// The socket path comes from the environment the harness sets for the
// definition subprocess; calling this anywhere else fails with
// [ErrInvalidContext]. A rejected directive returns the server's error so
// the shell function exits non-zero.
func Relay(directive string, args []string) error {
	socketPath := os.Getenv(EnvSocket)
	if socketPath == "" {
		return ErrInvalidContext
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHarness, err)
	}
	defer conn.Close()

	frame, err := Encode(Envelope{Directive: directive, Args: args})
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrHarness, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHarness, err)
	}

	reply, err := DecodeReply(line)
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s: %s", ErrHarness, directive, reply.Error)
	}
	return nil
}

package builtin

import (
	"context"
	"io"
	"os/exec"
)

// Executor abstracts how bash commands run. The default is a local
// subprocess; alternative implementations can delegate to a container, an
// SSH host, or a sandbox.
type Executor interface {
	// Exec runs command in the given working directory. onData is called
	// with chunks of combined stdout+stderr as they arrive; it may be nil.
	// It returns the process exit code and any execution error, which is
	// distinct from a non-zero exit code.
	Exec(ctx context.Context, command, dir string, onData func(chunk string)) (exitCode int, err error)
}

// LocalExecutor runs commands in a local bash subprocess.
type LocalExecutor struct{}

// Exec implements Executor by spawning `bash -c command` locally.
func (e *LocalExecutor) Exec(ctx context.Context, command, dir string, onData func(chunk string)) (int, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := pr.Read(buf)
			if n > 0 && onData != nil {
				onData(string(buf[:n]))
			}
			if err != nil {
				break
			}
		}
	}()

	cmdErr := cmd.Wait()
	pw.Close()
	<-readDone

	if cmdErr != nil {
		if exitErr, ok := cmdErr.(*exec.ExitError); ok {
			// Non-zero exit is a command result, not an executor error.
			return exitErr.ExitCode(), nil
		}
		return -1, cmdErr
	}
	return 0, nil
}

// Package shell executes operator commands through the local command
// interpreter. Commands run with full shell interpretation and without
// sandboxing or timeouts; that capability is the purpose of the tool, and it
// is kept behind the Runner interface so a restricted backend can be swapped
// in without touching protocol code.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// A Runner executes one command and captures its output. The returned string
// is the command's standard output followed by its standard error. A command
// that runs and fails is not an error; its stderr is part of the output. An
// error is returned only when the shell itself cannot be spawned.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

type shellRunner struct{}

// NewRunner returns a Runner backed by the platform's command interpreter.
func NewRunner() Runner {
	return shellRunner{}
}

func (shellRunner) Run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, shellName, shellFlag, command)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	output := stdout.String() + stderr.String()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// The command ran and failed; whatever it wrote to stderr is the
			// response.
			return output, nil
		}
		return output, fmt.Errorf("spawning %v: %v", shellName, err)
	}
	return output, nil
}

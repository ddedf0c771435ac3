//go:build mage

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type cmdOptions struct {
	args   []string
	env    map[string]string
	stream bool
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) {
		o.args = args
	}
}

func withEnv(key, value string) cmdOption {
	return func(o *cmdOptions) {
		if o.env == nil {
			o.env = make(map[string]string)
		}
		o.env[key] = value
	}
}

func withStream() cmdOption {
	return func(o *cmdOptions) {
		o.stream = true
	}
}

// executeCmd runs command and returns its output. Streamed output is not
// captured; a quiet command prints its output only when it fails.
func executeCmd(command string, options ...cmdOption) (string, error) {
	opts := &cmdOptions{}
	for _, o := range options {
		o(opts)
	}

	fmt.Printf("Executing: %s %s\n", command, strings.Join(opts.args, " "))
	if mg.Verbose() || opts.stream {
		if _, err := sh.Exec(opts.env, os.Stdout, os.Stderr, command, opts.args...); err != nil {
			return "", fmt.Errorf("error executing %s: %w", command, err)
		}
		return "", nil
	}

	out, err := sh.OutputWith(opts.env, command, opts.args...)
	if err != nil {
		fmt.Println("... failed command output:")
		fmt.Println(out)
		return "", fmt.Errorf("error executing %s: %w", command, err)
	}
	return out, nil
}

//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/magefile/mage/mg"
)

type runConfig struct {
	env   []string
	quiet bool
}

type runOption func(*runConfig)

// withEnv appends KEY=VALUE pairs to the inherited environment.
func withEnv(kv ...string) runOption {
	return func(c *runConfig) {
		c.env = append(c.env, kv...)
	}
}

// quietly buffers output and prints it only when the command fails.
func quietly() runOption {
	return func(c *runConfig) {
		c.quiet = true
	}
}

func run(command string, args []string, options ...runOption) error {
	cfg := &runConfig{}
	for _, o := range options {
		o(cfg)
	}

	fmt.Printf("Executing: %s %s\n", command, strings.Join(args, " "))
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), cfg.env...)

	var b bytes.Buffer
	if cfg.quiet && !mg.Verbose() {
		cmd.Stdout = &b
		cmd.Stderr = &b
	} else {
		cmd.Stdout = io.MultiWriter(&b, os.Stdout)
		cmd.Stderr = io.MultiWriter(&b, os.Stderr)
	}
	if err := cmd.Run(); err != nil {
		if cfg.quiet && !mg.Verbose() {
			fmt.Println("... failed command output:")
			fmt.Println(b.String())
		}
		return fmt.Errorf("%s %s: %w", command, strings.Join(args, " "), err)
	}
	return nil
}

// requireTool fails early with an install hint when a build tool is missing.
func requireTool(name, hint string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in PATH (%s)", name, hint)
	}
	return nil
}

// stale reports whether dst is missing or older than src.
func stale(src, dst string) (bool, error) {
	s, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	d, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return s.ModTime().After(d.ModTime()), nil
}

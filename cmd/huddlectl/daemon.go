package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/huddle/internal/api"
)

// ensureDaemon probes the profile's daemon and starts one if nothing healthy answers.
func ensureDaemon(profileName, socketPath string) error {
	if probeDaemon(socketPath) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
	if err := startDaemon(profileName); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if !waitForDaemon(socketPath, 10*time.Second) {
		return fmt.Errorf("daemon did not become ready")
	}
	return nil
}

// probeDaemon runs a real gRPC health check (not just a socket connect).
func probeDaemon(socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Healthy(ctx)
}

func startDaemon(profileName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	huddled := filepath.Join(filepath.Dir(executable), "huddled")

	if _, err := os.Stat(huddled); err != nil {
		huddled = "huddled"
	}

	cmd := exec.Command(huddled, "--profile", profileName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

package main

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running broker instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

func runStop() error {
	pid, ok := readPIDFile()
	if !ok || !processAlive(pid) {
		return fmt.Errorf("no running instance found")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to pid %d: %w", pid, err)
	}
	if !waitForExit(pid, 5*time.Second) {
		return fmt.Errorf("pid %d did not exit after SIGTERM", pid)
	}
	removePIDFile()
	return nil
}

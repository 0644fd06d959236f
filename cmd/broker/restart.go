package main

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the broker instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, ok := readPIDFile(); ok && processAlive(pid) {
			_ = syscall.Kill(pid, syscall.SIGTERM)
			if !waitForExit(pid, 5*time.Second) {
				if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
					return fmt.Errorf("escalate to SIGKILL for pid %d: %w", pid, err)
				}
				waitForExit(pid, 2*time.Second)
			}
			removePIDFile()
		}
		return runStart()
	},
}

//go:build !windows

package main

import "syscall"

// getDaemonSysProcAttr detaches the background process into its own session.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}

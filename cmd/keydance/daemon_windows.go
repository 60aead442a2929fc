//go:build windows

package main

import "syscall"

// getDaemonSysProcAttr runs the background process without a console window.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow: true,
	}
}

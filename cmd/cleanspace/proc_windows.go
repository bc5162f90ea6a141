//go:build windows

package main

import "os/exec"

// Windows has no Setsid; a started process already survives its parent.
func configureDaemonProc(cmd *exec.Cmd) {}

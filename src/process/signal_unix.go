//go:build !windows

package process

import (
	"os"
	"os/signal"
	"syscall"
)

func notifySignals(ch chan os.Signal) {
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
}

func stopNotify(ch chan os.Signal) {
	signal.Stop(ch)
}

// reraise restores default disposition for sig and re-sends it to this
// process, so the shell/parent sees the same termination signal Stu itself
// received (spec.md §5 step (a) and (d)).
func reraise(sig os.Signal) {
	if s, ok := sig.(syscall.Signal); ok {
		signal.Reset(s)
		syscall.Kill(os.Getpid(), s)
		return
	}
	os.Exit(1)
}

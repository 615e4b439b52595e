package main

import (
	"runtime"

	"backplate/internal/cli"
)

func init() {
	// preview windows must be driven from the main thread
	runtime.LockOSThread()
}

func main() {
	// frames are large float buffers that live for the whole run
	runtime.SetGCPercent(200)

	cli.Execute(cli.NewDeflickerCommand())
}

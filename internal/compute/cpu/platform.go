// Package cpu is the in-process reference backend of the kernel contract.
// Results are bit-identical across runs and worker counts.
package cpu

import (
	"fmt"
	"runtime"

	"backplate/internal/compute"
)

const PlatformName = "cpu"

type platform struct {
	devices []compute.Device
}

// NewPlatform returns the host platform with a single device running on
// the given number of workers (GOMAXPROCS when workers <= 0).
func NewPlatform(workers int) compute.Platform {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &platform{devices: []compute.Device{&device{workers: workers}}}
}

func (p *platform) Name() string { return PlatformName }

func (p *platform) Devices() []compute.Device { return p.devices }

type device struct {
	workers int
}

func (d *device) Name() string { return fmt.Sprintf("reference-%dw", d.workers) }

func (d *device) Build() (compute.Program, error) {
	pool := NewWorkerPool(d.workers)
	// a few bands per worker keeps stealing useful without tiny work items
	return &program{pool: pool, bands: pool.Workers() * 4}, nil
}

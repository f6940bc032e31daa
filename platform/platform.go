// Package platform ties together the device handles of a ReconOS system.
//
// A *Platform is an explicit context object: it owns the proc-control
// device, the clock manager registers and the reconfiguration loader, and
// hands them out to the code that needs them. Open attaches to the devices
// of a running Linux system; New assembles a platform from collaborators
// supplied by the caller, such as the simulations used in tests.
package platform

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/creachadair/reconos/clock"
	"github.com/creachadair/reconos/osif"
	"github.com/creachadair/reconos/proc"
	"github.com/creachadair/reconos/reconfig"
)

// MemPath is the default device through which the clock registers are mapped.
const MemPath = "/dev/mem"

// Config describes where to find the devices of a platform. A nil *Config
// selects the defaults for every field.
type Config struct {
	// The proc-control device. If empty, proc.DevicePath.
	ProcPath string

	// The OSIF device. If empty, osif.DevicePath.
	OSIFPath string

	// The device to map clock registers from. If empty, MemPath.
	MemPath string

	// The physical address and size of the clock region. If zero,
	// clock.BaseAddr and clock.RegionSize.
	ClockBase int64
	ClockSize int

	// The number of clock managers in the clock region. If zero, 1.
	NumClocks int

	// The root under which the reconfiguration driver paths are resolved.
	// If empty, "/".
	ConfigRoot string

	// If not nil, send debug logs to this writer.
	LogWriter io.Writer
}

func (c *Config) procPath() string {
	if c == nil || c.ProcPath == "" {
		return proc.DevicePath
	}
	return c.ProcPath
}

func (c *Config) osifPath() string {
	if c == nil || c.OSIFPath == "" {
		return osif.DevicePath
	}
	return c.OSIFPath
}

func (c *Config) memPath() string {
	if c == nil || c.MemPath == "" {
		return MemPath
	}
	return c.MemPath
}

func (c *Config) clockBase() int64 {
	if c == nil || c.ClockBase == 0 {
		return clock.BaseAddr
	}
	return c.ClockBase
}

func (c *Config) clockSize() int {
	if c == nil || c.ClockSize == 0 {
		return clock.RegionSize
	}
	return c.ClockSize
}

func (c *Config) numClocks() int {
	if c == nil || c.NumClocks <= 0 {
		return 1
	}
	return c.NumClocks
}

func (c *Config) configRoot() string {
	if c == nil {
		return ""
	}
	return c.ConfigRoot
}

func (c *Config) logWriter() io.Writer {
	if c == nil {
		return nil
	}
	return c.LogWriter
}

func (c *Config) logFunc() func(string, ...any) {
	if c == nil || c.LogWriter == nil {
		return func(string, ...any) {}
	}
	logger := log.New(c.LogWriter, "[platform] ", log.LstdFlags|log.Lshortfile)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}

// ErrClosed is reported by calls on a platform that has been closed.
var ErrClosed = errors.New("platform: closed")

// A Platform holds the device handles of one ReconOS system. Its methods are
// safe for concurrent use.
type Platform struct {
	ctl      proc.Control
	regs     clock.Registers
	clocks   []*clock.Manager
	loader   *reconfig.Loader
	osifPath string
	log      func(string, ...any)

	mu     sync.Mutex
	closed bool
}

// New constructs a platform from a proc-control handle and a bank of clock
// registers. The platform takes ownership of ctl, and of regs if it has a
// Close method. New does not reset the system.
func New(ctl proc.Control, regs clock.Registers, cfg *Config) (*Platform, error) {
	p := &Platform{
		ctl:  ctl,
		regs: regs,
		loader: &reconfig.Loader{
			Root:      cfg.configRoot(),
			LogWriter: cfg.logWriter(),
		},
		osifPath: cfg.osifPath(),
		log:      cfg.logFunc(),
	}
	for i := 0; i < cfg.numClocks(); i++ {
		m, err := clock.Open(regs, i)
		if err != nil {
			return nil, fmt.Errorf("platform: %w", err)
		}
		p.clocks = append(p.clocks, m)
	}
	p.log("Platform ready with %d clock manager(s)", len(p.clocks))
	return p, nil
}

// Proc returns the proc-control handle of the platform.
func (p *Platform) Proc() proc.Control { return p.ctl }

// NumClocks reports the number of clock managers of the platform.
func (p *Platform) NumClocks() int { return len(p.clocks) }

// Clock returns the clock manager at index i. The manager must not be used
// after p is closed.
func (p *Platform) Clock(i int) (*clock.Manager, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(p.clocks) {
		return nil, fmt.Errorf("platform: no clock manager %d (have %d)", i, len(p.clocks))
	}
	return p.clocks[i], nil
}

// Reconfig returns the loader for configuration images.
func (p *Platform) Reconfig() *reconfig.Loader { return p.loader }

// Status reads the current state of the proc-control plane.
func (p *Platform) Status() (proc.Status, error) {
	if err := p.check(); err != nil {
		return proc.Status{}, err
	}
	return proc.ReadStatus(p.ctl)
}

// ResetThreads holds every hardware thread in reset (on == true) or
// releases them all.
func (p *Platform) ResetThreads(on bool) error {
	if err := p.check(); err != nil {
		return err
	}
	n, err := p.ctl.NumHWTs()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := p.ctl.ResetHWT(i, on); err != nil {
			return fmt.Errorf("platform: thread %d: %w", i, err)
		}
	}
	p.log("Reset line of %d thread(s) set to %v", n, on)
	return nil
}

func (p *Platform) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

// Close releases the device handles of p. Calling Close more than once
// reports ErrClosed.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.log("Closing platform")

	errs := []error{p.ctl.Close()}
	if c, ok := p.regs.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

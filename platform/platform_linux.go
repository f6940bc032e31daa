//go:build linux

package platform

import (
	"fmt"

	"github.com/creachadair/reconos/clock"
	"github.com/creachadair/reconos/osif"
	"github.com/creachadair/reconos/proc"
)

// Open attaches to the devices of the running system described by cfg. It
// resets the whole system and maps the clock registers, as the platform must
// be in a known state before any hardware thread starts.
func Open(cfg *Config) (*Platform, error) {
	ctl, err := proc.Open(cfg.procPath())
	if err != nil {
		return nil, err
	}
	if err := ctl.SysReset(); err != nil {
		ctl.Close()
		return nil, fmt.Errorf("platform: system reset: %w", err)
	}
	regs, err := clock.MapRegisters(cfg.memPath(), cfg.clockBase(), cfg.clockSize())
	if err != nil {
		ctl.Close()
		return nil, err
	}
	p, err := New(ctl, regs, cfg)
	if err != nil {
		ctl.Close()
		regs.Close()
		return nil, err
	}
	return p, nil
}

// OpenOSIF opens an OSIF port of the platform selected by the given control
// mask and bits.
func (p *Platform) OpenOSIF(mask, bits uint32) (osif.Port, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	d, err := osif.Open(p.osifPath, mask, bits)
	if err != nil {
		return nil, err
	}
	p.log("Opened OSIF port (mask %#x, bits %#x)", mask, bits)
	return d, nil
}

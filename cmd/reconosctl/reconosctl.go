// Program reconosctl inspects and controls the hardware of a ReconOS system.
//
// Usage:
//
//	reconosctl [options] <command> [args...]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creachadair/reconos/clock"
	"github.com/creachadair/reconos/platform"
	"github.com/creachadair/reconos/proc"
)

var (
	procPath    = flag.String("proc", "", "Proc-control device (default "+proc.DevicePath+")")
	memPath     = flag.String("mem", "", "Memory device for clock registers (default "+platform.MemPath+")")
	numClocks   = flag.Int("clocks", 1, "Number of clock managers")
	configRoot  = flag.String("root", "", "Root of the reconfiguration driver paths")
	loadTimeout = flag.Duration("timeout", 30*time.Second, "Timeout for loading an image (0 for no timeout)")
	doPartial   = flag.Bool("partial", false, "Load a partial rather than a full configuration")
	doSim       = flag.Bool("sim", false, "Run against a simulated platform (for testing)")
	withLogging = flag.Bool("v", false, "Enable verbose logging")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s [options] <command> [args...]

Open the ReconOS devices of this system and perform the specified command.
Opening the devices resets the hardware threads.

Commands:

  status                 -- print the proc-control status as JSON
  reset <on|off>         -- hold or release all hardware threads
  hwt-reset <n> <on|off> -- set the reset line of thread n
  signal <n> <on|off>    -- set the signal line of thread n
  clock <m> <c> <div>    -- set the divider of output c of clock manager m
  load <image>           -- load a configuration image (see -partial)

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		log.Fatal("You must specify a command")
	}

	cfg := &platform.Config{
		ProcPath:   *procPath,
		MemPath:    *memPath,
		NumClocks:  *numClocks,
		ConfigRoot: *configRoot,
	}
	if *withLogging {
		cfg.LogWriter = os.Stderr
	}
	p, err := openPlatform(cfg)
	if err != nil {
		log.Fatalf("Opening platform: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if *loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *loadTimeout)
		defer cancel()
	}
	if err := run(ctx, p, flag.Args(), os.Stdout); err != nil {
		p.Close()
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func openPlatform(cfg *platform.Config) (*platform.Platform, error) {
	if *doSim {
		sim := proc.NewSim(8)
		regs := clock.NewMemRegisters(cfg.NumClocks * clock.WindowRegs)
		return platform.New(sim, regs, cfg)
	}
	return openDevices(cfg)
}

// run executes the command described by args on p, writing output to w.
func run(ctx context.Context, p *platform.Platform, args []string, w io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "status":
		if err := wantArgs(rest, 0); err != nil {
			return err
		}
		st, err := p.Status()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)

	case "reset":
		if err := wantArgs(rest, 1); err != nil {
			return err
		}
		on, err := parseSwitch(rest[0])
		if err != nil {
			return err
		}
		return p.ResetThreads(on)

	case "hwt-reset", "signal":
		if err := wantArgs(rest, 2); err != nil {
			return err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid thread number: %w", err)
		}
		on, err := parseSwitch(rest[1])
		if err != nil {
			return err
		}
		if cmd == "signal" {
			return p.Proc().SignalHWT(n, on)
		}
		return p.Proc().ResetHWT(n, on)

	case "clock":
		if err := wantArgs(rest, 3); err != nil {
			return err
		}
		var vals [3]int
		for i, s := range rest {
			v, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid argument %q: %w", s, err)
			}
			vals[i] = v
		}
		m, err := p.Clock(vals[0])
		if err != nil {
			return err
		}
		if err := m.SetDivider(vals[1], vals[2]); err != nil {
			return err
		}
		fmt.Fprintf(w, "clock %d output %d: divider %d\n", vals[0], vals[1], vals[2])
		return nil

	case "load":
		if err := wantArgs(rest, 1); err != nil {
			return err
		}
		return p.Reconfig().LoadFile(ctx, rest[0], *doPartial)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("got %d arguments, want %d", len(args), n)
	}
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q (want on or off)", s)
}

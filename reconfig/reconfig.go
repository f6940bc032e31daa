// Package reconfig loads full and partial configuration images into the
// programmable fabric through the Xilinx devcfg driver.
//
// Loading is a long, all-or-nothing operation: the image is written to the
// devcfg device and the loader then waits for the driver to report that
// programming is done. Hardware threads in the affected region must be held
// in reset for the duration.
package reconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Paths of the devcfg driver, relative to the loader root.
const (
	DevicePath  = "dev/xdevcfg"
	PartialPath = "sys/class/xdevcfg/xdevcfg/device/is_partial_bitstream"
	DonePath    = "sys/class/xdevcfg/xdevcfg/device/prog_done"
)

// DefaultPoll is the interval between checks of the done flag.
const DefaultPoll = 10 * time.Millisecond

// ErrEmptyImage is reported by Load for a zero-length image.
var ErrEmptyImage = errors.New("reconfig: empty configuration image")

// A Loader writes configuration images. Concurrent calls to Load are
// serialized. The zero value loads through the real driver paths.
type Loader struct {
	// The directory under which the driver paths are resolved.
	// If empty, "/" is used.
	Root string

	// The interval between checks of the done flag. If zero, DefaultPoll.
	Poll time.Duration

	// If not nil, send debug logs to this writer.
	LogWriter io.Writer

	mu      sync.Mutex
	logOnce sync.Once
	logger  *log.Logger
}

func (l *Loader) path(rel string) string {
	root := l.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, rel)
}

func (l *Loader) poll() time.Duration {
	if l.Poll <= 0 {
		return DefaultPoll
	}
	return l.Poll
}

func (l *Loader) logf(msg string, args ...any) {
	if l.LogWriter == nil {
		return
	}
	l.logOnce.Do(func() {
		l.logger = log.New(l.LogWriter, "[reconfig] ", log.LstdFlags|log.Lshortfile)
	})
	l.logger.Output(2, fmt.Sprintf(msg, args...))
}

// Load writes image to the fabric as a full (partial == false) or partial
// configuration, and blocks until the driver reports completion or ctx ends.
func (l *Loader) Load(ctx context.Context, image []byte, partial bool) error {
	if len(image) == 0 {
		return ErrEmptyImage
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	flag := []byte("0")
	if partial {
		flag = []byte("1")
	}
	if err := writeFile(l.path(PartialPath), flag); err != nil {
		return fmt.Errorf("reconfig: set partial flag: %w", err)
	}
	if err := writeFile(l.path(DevicePath), image); err != nil {
		return fmt.Errorf("reconfig: write image: %w", err)
	}
	l.logf("Wrote %d-byte image (partial=%v); waiting for completion", len(image), partial)

	tick := time.NewTicker(l.poll())
	defer tick.Stop()
	for {
		done, err := l.isDone()
		if err != nil {
			return fmt.Errorf("reconfig: read done flag: %w", err)
		} else if done {
			l.logf("Programming complete")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("reconfig: waiting for completion: %w", ctx.Err())
		case <-tick.C:
		}
	}
}

func (l *Loader) isDone() (bool, error) {
	f, err := os.Open(l.path(DonePath))
	if err != nil {
		return false, err
	}
	defer f.Close()
	var b [1]byte
	n, err := f.Read(b[:])
	if err != nil && err != io.EOF {
		return false, err
	}
	return n == 1 && b[0] == '1', nil
}

// writeFile writes data to an existing file, as for a device or sysfs node.
func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a configuration image from path and loads it with l.
func (l *Loader) LoadFile(ctx context.Context, path string, partial bool) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reconfig: %w", err)
	}
	return l.Load(ctx, image, partial)
}

//go:build linux

package ioctl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/creachadair/reconos/code"
	"golang.org/x/sys/unix"
)

func TestRejectedRequest(t *testing.T) {
	// A regular file accepts no driver requests.
	f, err := os.Create(filepath.Join(t.TempDir(), "plain"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	check := func(name string, err error) {
		t.Helper()
		if !errors.Is(err, unix.ENOTTY) {
			t.Errorf("%s: got %v, want ENOTTY", name, err)
		}
		if got := code.FromError(err); got != code.DeviceError {
			t.Errorf("%s: code %v, want %v", name, got, code.DeviceError)
		}
	}
	check("Call", Call(f.Fd(), IO('k', 0x16)))
	check("SetUint32", SetUint32(f.Fd(), IOW('k', 0x17, 4), 3))
	_, err = GetUint32(f.Fd(), IOR('k', 0x10, 4))
	check("GetUint32", err)
}

//go:build !linux

package main

import (
	"errors"

	"github.com/creachadair/reconos/platform"
)

func openDevices(*platform.Config) (*platform.Platform, error) {
	return nil, errors.New("device access is only supported on Linux (try -sim)")
}

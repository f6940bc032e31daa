//go:build linux

package main

import "github.com/creachadair/reconos/platform"

func openDevices(cfg *platform.Config) (*platform.Platform, error) { return platform.Open(cfg) }

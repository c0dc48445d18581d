package infra

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

const unknownDevice = "unknown"

// DeviceID returns the host's network name, used as device_id on every submission.
func DeviceID(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return unknownDevice
}

// HostSummary describes the host for the status command.
type HostSummary struct {
	Hostname        string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	Uptime          time.Duration
}

// DescribeHost returns a short description of the host.
func DescribeHost(ctx context.Context) (*HostSummary, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &HostSummary{
		Hostname:        info.Hostname,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Uptime:          time.Duration(info.Uptime) * time.Second,
	}, nil
}

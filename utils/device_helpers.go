package utils

import (
	"fmt"
	"strings"

	"github.com/notargets/gocca"
	"github.com/npillmayer/schuko/tracing"
)

// tracer writes to trace with key 'utils'
func tracer() tracing.Trace {
	return tracing.Select("utils")
}

// DeviceModes lists the OCCA modes in order of preference
var DeviceModes = []string{"OpenMP", "CUDA", "Serial"}

// DeviceProps returns the OCCA device properties for a mode name
func DeviceProps(mode string) (string, error) {
	switch strings.ToLower(mode) {
	case "openmp":
		return `{"mode": "OpenMP"}`, nil
	case "cuda":
		return `{"mode": "CUDA", "device_id": 0}`, nil
	case "serial":
		return `{"mode": "Serial"}`, nil
	}
	return "", fmt.Errorf("unknown OCCA mode %q", mode)
}

// CreateDevice creates the first device that can be opened from modes
func CreateDevice(modes []string) (*gocca.OCCADevice, error) {
	if len(modes) == 0 {
		modes = DeviceModes
	}
	var failed []string
	for _, mode := range modes {
		props, err := DeviceProps(mode)
		if err != nil {
			return nil, err
		}
		device, err := gocca.NewDevice(props)
		if err == nil {
			tracer().Infof("created %s device", device.Mode())
			return device, nil
		}
		failed = append(failed, fmt.Sprintf("%s: %v", mode, err))
	}
	return nil, fmt.Errorf("no OCCA device available (%s)", strings.Join(failed, "; "))
}

// CreateTestDevice creates a Device for testing, preferring parallel backends
func CreateTestDevice() *gocca.OCCADevice {
	device, err := CreateDevice(DeviceModes)
	if err != nil {
		// Serial is always available
		panic(err)
	}
	return device
}

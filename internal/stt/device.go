package stt

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceMPS  Device = "mps"
)

// DeviceProbe describes what the host offers. Nil probes report unavailable.
type DeviceProbe struct {
	Override string
	CUDA     func() bool
	MPS      func() bool
}

// HostProbe inspects the running machine.
func HostProbe(override string) DeviceProbe {
	return DeviceProbe{Override: override, CUDA: cudaAvailable, MPS: mpsAvailable}
}

// SelectDevice walks override, cuda, mps, cpu and returns the first that applies.
func SelectDevice(p DeviceProbe) Device {
	if d, ok := parseDevice(p.Override); ok {
		return d
	}
	if p.CUDA != nil && p.CUDA() {
		return DeviceCUDA
	}
	if p.MPS != nil && p.MPS() {
		return DeviceMPS
	}
	return DeviceCPU
}

// HalfPrecision reports whether float16 inference is allowed on d. Only cuda qualifies.
func HalfPrecision(d Device) bool {
	return d == DeviceCUDA
}

func parseDevice(raw string) (Device, bool) {
	switch Device(strings.ToLower(strings.TrimSpace(raw))) {
	case DeviceCPU:
		return DeviceCPU, true
	case DeviceCUDA:
		return DeviceCUDA, true
	case DeviceMPS:
		return DeviceMPS, true
	default:
		return "", false
	}
}

func cudaAvailable() bool {
	if v := strings.TrimSpace(os.Getenv("CUDA_VISIBLE_DEVICES")); v == "-1" {
		return false
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

func mpsAvailable() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// Package device detects the CPU brand and the accelerators available to local inference servers.
//
// Detection shells out to vendor tools (nvidia-smi, rocm-smi, sysctl) instead of linking a GPU
// runtime, so a missing tool simply means the device class is absent.
package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Brand is a coarse CPU vendor classification.
type Brand string

const (
	BrandIntel        Brand = "Intel"
	BrandAMD          Brand = "AMD"
	BrandAppleSilicon Brand = "Apple Silicon"
	BrandOthers       Brand = "Others"
)

// Device types understood by the model loader.
const (
	TypeCUDA = "cuda"
	TypeMPS  = "mps"
	TypeCPU  = "cpu"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Checker probes the host. Its fields are injectable for tests.
type Checker struct {
	Run      Runner
	ReadFile func(string) ([]byte, error)
	Getenv   func(string) string
	GOOS     string
	GOARCH   string
	Timeout  time.Duration
}

// NewChecker returns a Checker for the running host.
func NewChecker() *Checker {
	return &Checker{
		Run:      ExecRunner,
		ReadFile: os.ReadFile,
		Getenv:   os.Getenv,
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
		Timeout:  5 * time.Second,
	}
}

// GPU is a single accelerator reported by a vendor tool.
type GPU struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Info summarizes the host.
type Info struct {
	Brand     Brand    `json:"brand"`
	Processor string   `json:"processor"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	CPUCount  int      `json:"cpu_count"`
	CUDA      []GPU    `json:"cuda,omitempty"`
	ROCm      []GPU    `json:"rocm,omitempty"`
	MPS       bool     `json:"mps"`
	Devices   []string `json:"devices"`
}

func (c *Checker) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	return c.Run(ctx, name, args...)
}

// Processor returns the CPU model string, or "Unknown".
func (c *Checker) Processor(ctx context.Context) string {
	switch c.GOOS {
	case "linux":
		data, err := c.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "Unknown"
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			key, value, ok := strings.Cut(scanner.Text(), ":")
			if ok && strings.TrimSpace(key) == "model name" {
				return strings.TrimSpace(value)
			}
		}
		return "Unknown"
	case "darwin":
		out, err := c.run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
		if err != nil {
			return "Unknown"
		}
		return strings.TrimSpace(string(out))
	case "windows":
		if id := c.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			return id
		}
		return "Unknown"
	default:
		return "Unknown"
	}
}

// CPUBrand classifies the processor string.
func (c *Checker) CPUBrand(ctx context.Context) Brand {
	name := strings.ToLower(c.Processor(ctx))
	switch {
	case strings.Contains(name, "intel"):
		return BrandIntel
	case strings.Contains(name, "amd"):
		return BrandAMD
	case strings.Contains(name, "apple"):
		return BrandAppleSilicon
	case c.GOOS == "darwin" && c.GOARCH == "arm64":
		return BrandAppleSilicon
	default:
		return BrandOthers
	}
}

// CUDADevices lists NVIDIA GPUs via nvidia-smi.
func (c *Checker) CUDADevices(ctx context.Context) []GPU {
	out, err := c.run(ctx, "nvidia-smi", "--query-gpu=index,name", "--format=csv,noheader")
	if err != nil {
		return nil
	}
	return parseGPUList(out, false)
}

// ROCmDevices lists AMD GPUs via rocm-smi.
func (c *Checker) ROCmDevices(ctx context.Context) []GPU {
	out, err := c.run(ctx, "rocm-smi", "--showproductname", "--csv")
	if err != nil {
		return nil
	}
	return parseGPUList(out, true)
}

// MPSAvailable reports whether Apple's Metal Performance Shaders backend can be used.
func (c *Checker) MPSAvailable() bool {
	return c.GOOS == "darwin" && c.GOARCH == "arm64"
}

// Devices lists the usable devices: CUDA first, then MPS, then ROCm. "cpu" is always last.
func (c *Checker) Devices(ctx context.Context) []string {
	return deviceList(c.CUDADevices(ctx), c.MPSAvailable(), c.ROCmDevices(ctx))
}

func deviceList(cuda []GPU, mps bool, rocm []GPU) []string {
	devices := make([]string, 0, len(cuda)+len(rocm)+2)
	for _, g := range cuda {
		devices = append(devices, fmt.Sprintf("cuda:%d", g.Index))
	}
	if mps {
		devices = append(devices, TypeMPS)
	}
	for _, g := range rocm {
		devices = append(devices, fmt.Sprintf("rocm:%d", g.Index))
	}
	return append(devices, TypeCPU)
}

// DeviceType returns cuda, mps or cpu, in that order of preference.
func (c *Checker) DeviceType(ctx context.Context) string {
	if len(c.CUDADevices(ctx)) > 0 {
		return TypeCUDA
	}
	if c.MPSAvailable() {
		return TypeMPS
	}
	return TypeCPU
}

// Info collects everything the checker knows about the host.
func (c *Checker) Info(ctx context.Context) Info {
	info := Info{
		Processor: c.Processor(ctx),
		Brand:     c.CPUBrand(ctx),
		OS:        c.GOOS,
		Arch:      c.GOARCH,
		CPUCount:  runtime.NumCPU(),
		CUDA:      c.CUDADevices(ctx),
		ROCm:      c.ROCmDevices(ctx),
		MPS:       c.MPSAvailable(),
	}
	info.Devices = deviceList(info.CUDA, info.MPS, info.ROCm)
	return info
}

// parseGPUList reads "index, name" CSV lines. rocm-smi prints a header and "card0" style ids.
func parseGPUList(out []byte, skipHeader bool) []GPU {
	var gpus []GPU
	scanner := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first && skipHeader {
			first = false
			continue
		}
		first = false
		_, name, _ := strings.Cut(line, ",")
		gpus = append(gpus, GPU{Index: len(gpus), Name: strings.TrimSpace(name)})
	}
	return gpus
}

// Package device maps the requested device count onto data parallel CPU
// replicas.
package device

import (
	"fmt"
	"log"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

type Info struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	AVX2          bool
	AVX512        bool
}

func (i Info) String() string {
	return fmt.Sprintf("%v physical=%v logical=%v avx2=%v avx512=%v",
		i.Brand, i.PhysicalCores, i.LogicalCores, i.AVX2, i.AVX512)
}

func Detect() Info {
	var info = Info{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
	// cpuid reports zero cores on platforms it cannot query.
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	if info.PhysicalCores <= 0 {
		info.PhysicalCores = info.LogicalCores
	}
	if info.Brand == "" {
		info.Brand = runtime.GOARCH
	}
	return info
}

// ResolveDevices returns the number of replicas to train with. A request of
// zero or less takes every logical core; larger requests are clamped.
func ResolveDevices(requested int, info Info, logger *log.Logger) int {
	var available = max(1, info.LogicalCores)
	if requested <= 0 {
		return available
	}
	if requested > available {
		if logger != nil {
			logger.Println("requested devices", requested, "exceed logical cores", available, "clamping")
		}
		return available
	}
	return requested
}

package config

import (
	"fmt"
	"strings"

	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/mem/vm/paging"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Validate checks that the configuration describes a machine that can boot.
func (c Config) Validate() error {
	checks := []func() error{
		c.validateMemory,
		c.validatePools,
		c.validateHole,
		c.validateVMPools,
		c.validateDevices,
	}

	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}

	return nil
}

func (c Config) validateMemory() error {
	if c.MemorySize == 0 || c.MemorySize%frame.FrameSize != 0 {
		return invalid("memory size %d is not a positive multiple of %d",
			c.MemorySize, frame.FrameSize)
	}

	if c.MemorySize > 1<<32 {
		return invalid("memory size %d exceeds 4 GiB", c.MemorySize)
	}

	pagesPerTable := uint32(paging.EntriesPerTable)
	if c.SharedSize == 0 || c.SharedSize%paging.PageSize != 0 ||
		c.SharedSize > pagesPerTable*paging.PageSize {
		return invalid("shared size %d must be a page multiple within %d",
			c.SharedSize, pagesPerTable*paging.PageSize)
	}

	return nil
}

func (c Config) validatePools() error {
	totalFrames := uint64(c.MemorySize / frame.FrameSize)

	pools := []struct {
		name   string
		base   uint32
		frames uint32
	}{
		{"kernel", c.KernelPoolBase, c.KernelPoolFrames},
		{"process", c.ProcessPoolBase, c.ProcessPoolFrames},
	}

	for _, p := range pools {
		if p.frames == 0 {
			return invalid("%s pool has no frames", p.name)
		}

		if uint64(p.base)+uint64(p.frames) > totalFrames {
			return invalid("%s pool [%d, %d) exceeds memory of %d frames",
				p.name, p.base, uint64(p.base)+uint64(p.frames), totalFrames)
		}
	}

	if overlaps(
		c.KernelPoolBase, c.KernelPoolFrames,
		c.ProcessPoolBase, c.ProcessPoolFrames,
	) {
		return invalid("kernel pool and process pool overlap")
	}

	needed := frame.NeededInfoFrames(c.KernelPoolFrames) +
		frame.NeededInfoFrames(c.ProcessPoolFrames)
	if needed >= c.KernelPoolFrames {
		return invalid("kernel pool of %d frames cannot hold %d info frames",
			c.KernelPoolFrames, needed)
	}

	return nil
}

func (c Config) validateHole() error {
	if c.HoleFrames == 0 {
		return nil
	}

	start := uint64(c.ProcessPoolBase)
	end := start + uint64(c.ProcessPoolFrames)

	if uint64(c.HoleBase) < start ||
		uint64(c.HoleBase)+uint64(c.HoleFrames) > end {
		return invalid("hole [%d, %d) is outside the process pool",
			c.HoleBase, uint64(c.HoleBase)+uint64(c.HoleFrames))
	}

	return nil
}

func (c Config) validateVMPools() error {
	pools := []struct {
		name string
		base uint32
		size uint32
	}{
		{"code", c.CodePoolBase, c.CodePoolSize},
		{"heap", c.HeapPoolBase, c.HeapPoolSize},
	}

	for _, p := range pools {
		if p.base%paging.PageSize != 0 || p.size%paging.PageSize != 0 {
			return invalid("%s pool 0x%08x+0x%x is not page aligned",
				p.name, p.base, p.size)
		}

		if p.size <= 2*paging.PageSize {
			return invalid("%s pool of %d bytes is too small", p.name, p.size)
		}

		if uint64(p.base)+uint64(p.size) > 1<<32 {
			return invalid("%s pool exceeds the address space", p.name)
		}

		if p.base < c.SharedSize {
			return invalid("%s pool overlaps the shared region", p.name)
		}
	}

	if overlaps(
		c.CodePoolBase/paging.PageSize, c.CodePoolSize/paging.PageSize,
		c.HeapPoolBase/paging.PageSize, c.HeapPoolSize/paging.PageSize,
	) {
		return invalid("code pool and heap pool overlap")
	}

	return nil
}

func (c Config) validateDevices() error {
	if c.DiskBlocks == 0 {
		return invalid("disk has no blocks")
	}

	if c.DiskLatency < 0 {
		return invalid("disk latency %d is negative", c.DiskLatency)
	}

	if c.TLBSize <= 0 {
		return invalid("TLB size %d is not positive", c.TLBSize)
	}

	if c.MaxFaultRetries < 1 {
		return invalid("fault retries %d is less than 1", c.MaxFaultRetries)
	}

	if c.MonitorPort < 0 || c.MonitorPort > 65535 {
		return invalid("monitor port %d is out of range", c.MonitorPort)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("unknown log level %q", c.LogLevel)
	}

	return nil
}

func overlaps(aBase, aLen, bBase, bLen uint32) bool {
	aEnd := uint64(aBase) + uint64(aLen)
	bEnd := uint64(bBase) + uint64(bLen)

	return uint64(aBase) < bEnd && uint64(bBase) < aEnd
}

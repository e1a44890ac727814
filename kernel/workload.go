package kernel

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/mem/vm/vmpool"
	"github.com/sarchlab/kcore/sched"
)

// ErrVerification is returned when a workload reads back data that differs
// from what it wrote.
var ErrVerification = errors.New("verification failed")

// MemoryReport summarizes a run of the memory workload.
type MemoryReport struct {
	Regions int
	Words   uint64
	Faults  uint64
}

// RunMemoryWorkload allocates rounds regions of growing size from each VM
// pool, fills them with a sequence of numbers through the MMU, checks the
// sequences, and releases the regions in reverse order.
func (k *Kernel) RunMemoryWorkload(rounds int) (MemoryReport, error) {
	report := MemoryReport{}
	faultsBefore := k.MMU.NumFaults()

	for _, pool := range k.VMPools() {
		n, err := k.exercisePool(pool, rounds)
		report.Words += n

		if err != nil {
			return report, err
		}

		report.Regions += rounds
	}

	report.Faults = k.MMU.NumFaults() - faultsBefore

	slog.Info("memory workload done",
		"regions", report.Regions,
		"words", report.Words,
		"faults", report.Faults)

	return report, nil
}

func (k *Kernel) exercisePool(
	pool *vmpool.VMPool,
	rounds int,
) (uint64, error) {
	type allocation struct {
		addr  uint32
		words uint32
		seed  uint32
	}

	allocations := make([]allocation, 0, rounds)
	words := uint64(0)

	for i := 0; i < rounds; i++ {
		size := uint32(i%4+1)*paging.PageSize - uint32(i*8)%paging.PageSize
		addr, err := pool.Allocate(size)
		if err != nil {
			return words, fmt.Errorf("%s: allocating %d bytes: %w",
				pool.Name(), size, err)
		}

		a := allocation{addr: addr, words: size / 4, seed: uint32(i) << 16}
		for j := uint32(0); j < a.words; j++ {
			if err := k.MMU.WriteUint32(a.addr+j*4, a.seed+j); err != nil {
				return words, err
			}
		}

		words += uint64(a.words)
		allocations = append(allocations, a)
	}

	for _, a := range allocations {
		for j := uint32(0); j < a.words; j++ {
			v, err := k.MMU.ReadUint32(a.addr + j*4)
			if err != nil {
				return words, err
			}

			if v != a.seed+j {
				return words, fmt.Errorf("%w: 0x%08x holds %d, want %d",
					ErrVerification, a.addr+j*4, v, a.seed+j)
			}
		}
	}

	for i := len(allocations) - 1; i >= 0; i-- {
		if err := pool.Release(allocations[i].addr); err != nil {
			return words, err
		}
	}

	return words, nil
}

// ThreadReport summarizes a run of the thread workload.
type ThreadReport struct {
	Threads int
	Yields  uint64
	DiskOps uint64
}

// RunThreadWorkload starts numThreads threads that each write and read back
// iterations disk blocks, staging the data in a heap region, plus one thread
// that only computes and yields. The calling goroutine becomes the idle
// thread until all of them terminate.
func (k *Kernel) RunThreadWorkload(
	numThreads, iterations int,
) (ThreadReport, error) {
	report := ThreadReport{Threads: numThreads + 1}

	var firstErr error

	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := 0; i < numThreads; i++ {
		id := i
		t := k.Scheduler.NewThread(fmt.Sprintf("io%d", id),
			func(t *sched.Thread) {
				if err := k.ioLoop(t, id, numThreads, iterations, &report); err != nil {
					fail(fmt.Errorf("%s: %w", t.Name(), err))
				}
			})
		k.Scheduler.Add(t)
	}

	k.Scheduler.Add(k.Scheduler.NewThread("cpu", func(t *sched.Thread) {
		sum := uint64(0)
		for i := 0; i < 2*iterations; i++ {
			for j := uint64(0); j < 1000; j++ {
				sum += j
			}

			report.Yields++
			t.Scheduler().Yield()
		}

		slog.Debug("cpu thread done", "sum", sum)
	}))

	k.Scheduler.Run()

	slog.Info("thread workload done",
		"threads", report.Threads,
		"yields", report.Yields,
		"disk_ops", report.DiskOps)

	return report, firstErr
}

func (k *Kernel) ioLoop(
	t *sched.Thread,
	id, numThreads, iterations int,
	report *ThreadReport,
) error {
	buf, err := k.HeapPool.Allocate(disk.BlockSize)
	if err != nil {
		return err
	}

	defer func() {
		if err := k.HeapPool.Release(buf); err != nil {
			slog.Warn("cannot release buffer", "thread", t.Name(), "error", err)
		}
	}()

	for it := 0; it < iterations; it++ {
		block := uint32(it*numThreads+id) % k.Disk.NumBlocks()

		data := make([]byte, disk.BlockSize)
		for i := range data {
			data[i] = byte(id*31 + it + i)
		}

		if err := k.MMU.Write(buf, data); err != nil {
			return err
		}

		staged, err := k.MMU.Read(buf, disk.BlockSize)
		if err != nil {
			return err
		}

		if err := k.Disk.Write(block, staged); err != nil {
			return err
		}
		report.DiskOps++

		report.Yields++
		t.Scheduler().Yield()

		read := make([]byte, disk.BlockSize)
		if err := k.Disk.Read(block, read); err != nil {
			return err
		}
		report.DiskOps++

		for i := range read {
			if read[i] != data[i] {
				return fmt.Errorf("%w: block %d byte %d is %d, want %d",
					ErrVerification, block, i, read[i], data[i])
			}
		}
	}

	return nil
}

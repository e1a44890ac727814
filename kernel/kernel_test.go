package kernel

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/config"
	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/mem/vm/paging"
)

var _ = Describe("Kernel", func() {
	var k *Kernel

	BeforeEach(func() {
		k = MakeBuilder().Build("Kernel")
	})

	It("should lay out memory", func() {
		Expect(k.KernelPool.BaseFrame()).To(Equal(uint32(512)))
		Expect(k.ProcessPool.BaseFrame()).To(Equal(uint32(1024)))
		Expect(k.KernelPool.Contains(k.ProcessPool.InfoFrame())).To(BeTrue())

		// Bitmap, process pool bitmap, directory, and first page table.
		Expect(k.KernelPool.FreeFrames()).To(Equal(uint32(508)))

		// The hole, plus a page table and two list pages per VM pool.
		Expect(k.ProcessPool.FreeFrames()).To(Equal(uint32(7168 - 256 - 6)))
	})

	It("should enable paging", func() {
		Expect(k.Paging.PagingEnabled()).To(BeTrue())
		Expect(k.Registers.ReadCR3()).To(Equal(k.PageTable.DirectoryAddress()))
		Expect(k.PageTable.Pools()).To(HaveLen(2))
	})

	It("should map the shared region directly", func() {
		addr, err := k.MMU.Translate(0x00123456, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(addr).To(Equal(uint64(0x00123456)))
	})

	It("should list its components", func() {
		Expect(k.Hookables()).To(HaveLen(7))
		Expect(k.Components()).To(HaveLen(8))
	})

	It("should panic on an invalid configuration", func() {
		c := config.Default()
		c.DiskBlocks = 0

		Expect(func() {
			MakeBuilder().WithConfig(c).Build("Kernel")
		}).To(Panic())
	})

	Context("memory workload", func() {
		It("should write, verify, and release regions", func() {
			before := k.ProcessPool.FreeFrames()

			report, err := k.RunMemoryWorkload(8)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Regions).To(Equal(16))
			Expect(report.Words).To(Equal(uint64(2 * 20424)))
			Expect(report.Faults).To(Equal(uint64(40)))
			Expect(k.ProcessPool.FreeFrames()).To(Equal(before))
			Expect(k.CodePool.NumAllocatedRegions()).To(BeZero())
			Expect(k.HeapPool.NumAllocatedRegions()).To(BeZero())
		})
	})

	Context("regions across a page table boundary", func() {
		const lastSlot = uint32(0x403FF000)

		var region uint32

		BeforeEach(func() {
			var err error
			region, err = k.HeapPool.Allocate(1100 * paging.PageSize)
			Expect(err).NotTo(HaveOccurred())
			Expect(region).To(BeNumerically("<", lastSlot))
		})

		It("should fault in the last page of a table", func() {
			faults := k.MMU.NumFaults()

			for i := uint32(0); i < 16; i++ {
				Expect(k.MMU.WriteUint32(lastSlot+i*4, 0xA0+i)).To(Succeed())
			}
			Expect(k.MMU.WriteUint32(region, 7)).To(Succeed())

			Expect(k.MMU.NumFaults()).To(BeNumerically(">", faults))

			v, err := k.MMU.ReadUint32(region)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint32(7)))

			for i := uint32(0); i < 16; i++ {
				v, err := k.MMU.ReadUint32(lastSlot + i*4)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(0xA0 + i))
			}

			d := paging.DirectoryIndex(lastSlot)
			pte, found := k.PageTable.Lookup(lastSlot)
			Expect(found).To(BeTrue())
			Expect(pte.Frame()).NotTo(Equal(k.PageTable.PDE(d).Frame()))
		})

		It("should keep the table frame when the region is released", func() {
			Expect(k.MMU.WriteUint32(lastSlot, 1)).To(Succeed())
			d := paging.DirectoryIndex(lastSlot)
			tableFrame := k.PageTable.PDE(d).Frame()

			Expect(k.HeapPool.Release(region)).To(Succeed())

			Expect(k.PageTable.PDE(d).Present()).To(BeTrue())
			Expect(k.ProcessPool.State(tableFrame)).NotTo(Equal(frame.Free))
		})
	})

	It("should verify a memory workload larger than one page table", func() {
		report, err := k.RunMemoryWorkload(400)

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Regions).To(Equal(800))
		Expect(k.HeapPool.NumAllocatedRegions()).To(BeZero())
	})

	Context("thread workload", func() {
		It("should run all threads to completion", func() {
			report, err := k.RunThreadWorkload(3, 4)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Threads).To(Equal(4))
			Expect(report.DiskOps).To(Equal(uint64(24)))
			Expect(report.Yields).To(Equal(uint64(20)))
			Expect(k.Scheduler.Queue()).To(HaveLen(1))
			Expect(k.HeapPool.NumAllocatedRegions()).To(BeZero())
		})

		It("should leave the data on disk", func() {
			_, err := k.RunThreadWorkload(2, 2)
			Expect(err).NotTo(HaveOccurred())

			// Block 3 is the second write of thread 1.
			data, err := k.DiskController.Storage().Read(3*disk.BlockSize,
				disk.BlockSize)
			Expect(err).NotTo(HaveOccurred())

			for i := range data {
				Expect(data[i]).To(Equal(byte(31 + 1 + i)))
			}
		})
	})
})

package frame

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/kcore/memory"
	"github.com/sarchlab/kcore/sim"
)

var _ = Describe("NeededInfoFrames", func() {
	It("should round up", func() {
		Expect(NeededInfoFrames(1)).To(Equal(uint32(1)))
		Expect(NeededInfoFrames(16)).To(Equal(uint32(1)))
		Expect(NeededInfoFrames(16384)).To(Equal(uint32(1)))
		Expect(NeededInfoFrames(16385)).To(Equal(uint32(2)))
	})
})

var _ = Describe("Pool", func() {
	var (
		storage  *memory.Storage
		registry *Registry
	)

	BeforeEach(func() {
		storage = memory.NewStorage(64 * FrameSize)
		registry = NewRegistry()
	})

	checkPartition := func(p *Pool) {
		states := p.States()
		free := uint32(0)

		for i, s := range states {
			Expect(s).NotTo(Equal(invalidState))

			if s == Free {
				free++
			}

			if s == Used {
				Expect(i).To(BeNumerically(">", 0))
				Expect(states[i-1]).To(
					Or(Equal(Used), Equal(HeadOfSequence)))
			}
		}

		Expect(p.FreeFrames()).To(Equal(free))
	}

	Context("with an external info frame", func() {
		var pool *Pool

		BeforeEach(func() {
			pool = MakeBuilder().
				WithStorage(storage).
				WithRegistry(registry).
				WithBaseFrame(32).
				WithNumFrames(16).
				WithInfoFrame(2).
				Build("Pool")
		})

		It("should start with every frame free", func() {
			Expect(pool.FreeFrames()).To(Equal(uint32(16)))
			Expect(pool.BaseFrame()).To(Equal(uint32(32)))
			Expect(pool.NumFrames()).To(Equal(uint32(16)))
			Expect(pool.InfoFrame()).To(Equal(uint32(2)))
			checkPartition(pool)
		})

		It("should allocate and release a run", func() {
			first := pool.GetFrames(3)

			Expect(first).To(Equal(uint32(32)))
			Expect(pool.State(32)).To(Equal(HeadOfSequence))
			Expect(pool.State(33)).To(Equal(Used))
			Expect(pool.State(34)).To(Equal(Used))
			Expect(pool.State(35)).To(Equal(Free))
			Expect(pool.FreeFrames()).To(Equal(uint32(13)))
			checkPartition(pool)

			Expect(registry.Release(first)).To(Succeed())

			Expect(pool.FreeFrames()).To(Equal(uint32(16)))
			for f := uint32(32); f < 48; f++ {
				Expect(pool.State(f)).To(Equal(Free))
			}
		})

		It("should store the bitmap in the info frame", func() {
			pool.GetFrames(2)

			data, err := storage.Read(2*FrameSize, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(data[0]).To(Equal(byte(0b0110)))
		})

		It("should not hand out the same frame twice", func() {
			seen := map[uint32]bool{}

			for i := 0; i < 5; i++ {
				first := pool.GetFrames(3)
				for f := first; f < first+3; f++ {
					Expect(seen[f]).To(BeFalse())
					seen[f] = true
				}
			}

			checkPartition(pool)
		})

		It("should stop releasing at the next head", func() {
			a := pool.GetFrames(2)
			b := pool.GetFrames(2)

			Expect(registry.Release(a)).To(Succeed())

			Expect(pool.State(a)).To(Equal(Free))
			Expect(pool.State(a + 1)).To(Equal(Free))
			Expect(pool.State(b)).To(Equal(HeadOfSequence))
			Expect(pool.State(b + 1)).To(Equal(Used))
			checkPartition(pool)
		})

		It("should reuse the lowest fitting run", func() {
			a := pool.GetFrames(2)
			pool.GetFrames(2)
			Expect(registry.Release(a)).To(Succeed())

			Expect(pool.GetFrames(3)).To(Equal(uint32(36)))
			Expect(pool.GetFrames(1)).To(Equal(a))
		})

		It("should release a run that ends at the pool boundary", func() {
			pool.GetFrames(10)
			last := pool.GetFrames(6)

			Expect(registry.Release(last)).To(Succeed())
			Expect(pool.FreeFrames()).To(Equal(uint32(6)))
		})

		It("should panic when allocating zero frames", func() {
			Expect(func() { pool.GetFrames(0) }).To(Panic())
		})

		It("should panic when allocating more than free", func() {
			Expect(func() { pool.GetFrames(17) }).To(Panic())
		})

		It("should panic when no contiguous run exists", func() {
			a := pool.GetFrames(4)
			pool.GetFrames(4)
			c := pool.GetFrames(4)
			pool.GetFrames(4)
			Expect(registry.Release(a)).To(Succeed())
			Expect(registry.Release(c)).To(Succeed())

			Expect(pool.FreeFrames()).To(Equal(uint32(8)))
			Expect(func() { pool.GetFrames(5) }).To(Panic())
		})

		It("should reject releasing a frame in the middle of a run", func() {
			first := pool.GetFrames(3)

			err := registry.Release(first + 1)

			Expect(err).To(MatchError(ErrNotHeadOfSequence))
			Expect(pool.FreeFrames()).To(Equal(uint32(13)))
		})

		It("should reject releasing a free frame", func() {
			Expect(registry.Release(40)).To(MatchError(ErrNotHeadOfSequence))
		})

		It("should reject releasing a frame outside all pools", func() {
			Expect(registry.Release(1000)).To(MatchError(ErrPoolNotFound))
		})

		It("should mark frames inaccessible", func() {
			pool.MarkInaccessible(40, 4)

			Expect(pool.State(40)).To(Equal(HeadOfSequence))
			Expect(pool.State(43)).To(Equal(Used))
			Expect(pool.FreeFrames()).To(Equal(uint32(12)))
			Expect(pool.GetFrames(8)).To(Equal(uint32(32)))
			Expect(pool.GetFrames(4)).To(Equal(uint32(44)))
			checkPartition(pool)
		})

		It("should panic when marking out of range", func() {
			Expect(func() { pool.MarkInaccessible(46, 4) }).To(Panic())
		})

		It("should panic when marking allocated frames", func() {
			pool.GetFrames(2)
			Expect(func() { pool.MarkInaccessible(33, 2) }).To(Panic())
		})

		It("should panic on a corrupted bitmap", func() {
			Expect(storage.Write(2*FrameSize, []byte{0b11})).To(Succeed())
			Expect(func() { pool.State(32) }).To(Panic())
		})
	})

	Context("with the bitmap inside the pool", func() {
		It("should reserve the first frame", func() {
			pool := MakeBuilder().
				WithStorage(storage).
				WithRegistry(registry).
				WithBaseFrame(8).
				WithNumFrames(16).
				Build("Pool")

			Expect(pool.InfoFrame()).To(Equal(uint32(8)))
			Expect(pool.State(8)).To(Equal(HeadOfSequence))
			Expect(pool.FreeFrames()).To(Equal(uint32(15)))
			Expect(pool.GetFrames(1)).To(Equal(uint32(9)))
			checkPartition(pool)
		})
	})

	Context("with many pools", func() {
		It("should route releases to the owning pool", func() {
			p1 := MakeBuilder().
				WithStorage(storage).
				WithRegistry(registry).
				WithBaseFrame(8).
				WithNumFrames(8).
				Build("P1")
			p2 := MakeBuilder().
				WithStorage(storage).
				WithRegistry(registry).
				WithBaseFrame(16).
				WithNumFrames(8).
				Build("P2")

			Expect(registry.Pools()).To(Equal([]*Pool{p2, p1}))
			Expect(registry.Pool(p1.ID())).To(BeIdenticalTo(p1))

			f := p1.GetFrames(2)
			g := p2.GetFrames(2)

			Expect(registry.Release(g)).To(Succeed())
			Expect(p2.FreeFrames()).To(Equal(uint32(7)))
			Expect(p1.FreeFrames()).To(Equal(uint32(5)))

			Expect(registry.Release(f)).To(Succeed())
			Expect(p1.FreeFrames()).To(Equal(uint32(7)))

			owner, found := registry.Find(20)
			Expect(found).To(BeTrue())
			Expect(owner).To(BeIdenticalTo(p2))
		})
	})

	Context("with hooks", func() {
		var (
			mockCtrl *gomock.Controller
			hook     *MockHook
			pool     *Pool
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			hook = NewMockHook(mockCtrl)
			pool = MakeBuilder().
				WithStorage(storage).
				WithRegistry(registry).
				WithBaseFrame(32).
				WithNumFrames(16).
				WithInfoFrame(2).
				Build("Pool")
			pool.AcceptHook(hook)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report allocation and release", func() {
			gomock.InOrder(
				hook.EXPECT().Func(sim.HookCtx{
					Domain: pool,
					Pos:    HookPosFramesAllocated,
					Item:   FrameRun{First: 32, Count: 3},
				}),
				hook.EXPECT().Func(sim.HookCtx{
					Domain: pool,
					Pos:    HookPosFramesReleased,
					Item:   FrameRun{First: 32, Count: 3},
				}),
			)

			first := pool.GetFrames(3)
			Expect(registry.Release(first)).To(Succeed())
		})

		It("should report reservations", func() {
			hook.EXPECT().Func(sim.HookCtx{
				Domain: pool,
				Pos:    HookPosFramesReserved,
				Item:   FrameRun{First: 40, Count: 2},
			})

			pool.MarkInaccessible(40, 2)
		})
	})
})

package tracing

import (
	"bytes"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/memory"
	"github.com/sarchlab/kcore/sim"
)

var _ = Describe("CountTracer", func() {
	var (
		tracer   *CountTracer
		registry *frame.Registry
		pool     *frame.Pool
	)

	BeforeEach(func() {
		tracer = NewCountTracer()
		registry = frame.NewRegistry()
		pool = frame.MakeBuilder().
			WithStorage(memory.NewStorage(64 * frame.FrameSize)).
			WithRegistry(registry).
			WithBaseFrame(16).
			WithNumFrames(16).
			WithInfoFrame(0).
			Build("Pool")
		Attach(tracer, pool)
	})

	It("should count events per position", func() {
		pool.MarkInaccessible(30, 2)
		a := pool.GetFrames(2)
		pool.GetFrames(3)
		Expect(registry.Release(a)).To(Succeed())

		Expect(tracer.Count(frame.HookPosFramesAllocated)).
			To(Equal(uint64(2)))
		Expect(tracer.Count(frame.HookPosFramesReleased)).
			To(Equal(uint64(1)))
		Expect(tracer.Names()).To(Equal([]string{
			frame.HookPosFramesReserved.Name,
			frame.HookPosFramesAllocated.Name,
			frame.HookPosFramesReleased.Name,
		}))
	})
})

var _ = Describe("RecordingTracer", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *MockDataRecorder
		tracer   *RecordingTracer
		domain   *sim.HookableBase
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewMockDataRecorder(mockCtrl)
		recorder.EXPECT().CreateTable(EventTable, KernelEvent{})
		tracer = NewRecordingTracer(recorder)
		domain = &sim.HookableBase{}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should record a page fault", func() {
		recorder.EXPECT().
			InsertData(EventTable, gomock.Any()).
			Do(func(_ string, entry any) {
				e := entry.(KernelEvent)
				Expect(e.Seq).To(Equal(uint64(1)))
				Expect(e.Where).To(Equal("PageTable[0]"))
				Expect(e.Kind).To(Equal(paging.HookPosPageFault.Name))
				Expect(e.A).To(Equal(uint64(0x00400000)))
				Expect(e.B).To(Equal(uint64(1)))
			})

		tracer.Func(sim.HookCtx{
			Domain: namedDomain{domain, "PageTable[0]"},
			Pos:    paging.HookPosPageFault,
			Item:   paging.Fault{Address: 0x00400000, Write: true},
		})

		Expect(tracer.NumEvents()).To(Equal(uint64(1)))
	})

	It("should add the operation to disk events", func() {
		recorder.EXPECT().
			InsertData(EventTable, gomock.Any()).
			Do(func(_ string, entry any) {
				e := entry.(KernelEvent)
				Expect(e.Kind).To(Equal(disk.HookPosDiskOp.Name + " write"))
				Expect(e.A).To(Equal(uint64(7)))
				Expect(e.B).To(Equal(uint64(3)))
			})

		tracer.Func(sim.HookCtx{
			Domain: namedDomain{domain, "Disk"},
			Pos:    disk.HookPosDiskOp,
			Item:   disk.Op{Kind: disk.OpWrite, Block: 7, Polls: 3},
		})
	})

	It("should skip unknown items", func() {
		tracer.Func(sim.HookCtx{
			Domain: namedDomain{domain, "Other"},
			Pos:    &sim.HookPos{Name: "Other"},
			Item:   42,
		})

		Expect(tracer.NumEvents()).To(Equal(uint64(0)))
	})
})

type namedDomain struct {
	*sim.HookableBase
	name string
}

func (d namedDomain) Name() string {
	return d.name
}

var _ = Describe("LogTracer", func() {
	It("should log events at the debug level", func() {
		buf := new(bytes.Buffer)
		logger := slog.New(slog.NewTextHandler(buf,
			&slog.HandlerOptions{Level: slog.LevelDebug}))
		tracer := NewLogTracer(logger)

		tracer.Func(sim.HookCtx{
			Domain: namedDomain{&sim.HookableBase{}, "Pool"},
			Pos:    frame.HookPosFramesAllocated,
			Item:   frame.FrameRun{First: 16, Count: 3},
		})

		Expect(buf.String()).To(ContainSubstring(`msg="Frames Allocated"`))
		Expect(buf.String()).To(ContainSubstring("where=Pool a=16 b=3"))
	})

	It("should stay quiet above the debug level", func() {
		buf := new(bytes.Buffer)
		tracer := NewLogTracer(slog.New(slog.NewTextHandler(buf, nil)))

		tracer.Func(sim.HookCtx{
			Domain: namedDomain{&sim.HookableBase{}, "Pool"},
			Pos:    frame.HookPosFramesAllocated,
			Item:   frame.FrameRun{First: 16, Count: 3},
		})

		Expect(buf.String()).To(BeEmpty())
	})
})

package sched

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/sim"
)

func names(threads []*Thread) []string {
	var n []string
	for _, t := range threads {
		n = append(n, t.Name())
	}

	return n
}

// snapshot walks the queue without touching the interrupt flag, so that it
// can be used from hooks.
func snapshot(s *Scheduler) (queue, disk []string) {
	for i := s.head; i != noThread; i = s.threads[i].next {
		queue = append(queue, s.threads[i].name)
	}

	if s.diskHead == noThread {
		return queue, disk
	}

	for i := s.diskHead; ; i = s.threads[i].next {
		disk = append(disk, s.threads[i].name)
		if i == s.diskTail {
			break
		}
	}

	return queue, disk
}

var _ = Describe("Scheduler", func() {
	var (
		flag *cpu.InterruptFlag
		s    *Scheduler
		log  []string
	)

	BeforeEach(func() {
		flag = &cpu.InterruptFlag{}
		s = MakeBuilder().WithInterrupts(flag).Build("Scheduler")
		log = nil
	})

	It("should start with the idle thread", func() {
		Expect(s.Current()).To(BeIdenticalTo(s.Idle()))
		Expect(s.Idle().ID()).To(Equal(0))
		Expect(names(s.Queue())).To(Equal([]string{"idle"}))
		Expect(s.DiskWaiting()).To(BeEmpty())
	})

	It("should return from Run without threads", func() {
		s.Run()
		Expect(flag.Enabled()).To(BeTrue())
	})

	It("should give sequential IDs", func() {
		a := s.NewThread("A", func(*Thread) {})
		b := s.NewThread("B", func(*Thread) {})

		Expect(a.ID()).To(Equal(1))
		Expect(b.ID()).To(Equal(2))
		Expect(a.Scheduler()).To(BeIdenticalTo(s))
	})

	It("should not run a thread before it is dispatched", func() {
		s.NewThread("A", func(*Thread) { log = append(log, "A") })

		s.Run()

		Expect(log).To(BeEmpty())
	})

	It("should run threads round-robin", func() {
		for _, name := range []string{"A", "B", "C"} {
			s.Add(s.NewThread(name, func(t *Thread) {
				for i := 0; i < 3; i++ {
					log = append(log, t.Name())
					t.Scheduler().Yield()
				}
			}))
		}

		s.Run()

		Expect(log).To(Equal([]string{
			"A", "B", "C",
			"A", "B", "C",
			"A", "B", "C",
		}))
		Expect(names(s.Queue())).To(Equal([]string{"idle"}))
		Expect(flag.Enabled()).To(BeTrue())
	})

	It("should run bodies with interrupts enabled", func() {
		enabled := false
		s.Add(s.NewThread("A", func(*Thread) {
			enabled = flag.Enabled()
		}))

		s.Run()

		Expect(enabled).To(BeTrue())
	})

	It("should see the running thread as current", func() {
		var current *Thread
		a := s.NewThread("A", func(t *Thread) {
			current = t.Scheduler().Current()
		})
		s.Add(a)

		s.Run()

		Expect(current).To(BeIdenticalTo(a))
		Expect(s.Current()).To(BeIdenticalTo(s.Idle()))
	})

	It("should terminate threads when their body returns", func() {
		a := s.NewThread("A", func(*Thread) {})
		s.Add(a)

		s.Run()

		Expect(a.Terminated()).To(BeTrue())
	})

	It("should never return from terminating itself", func() {
		s.Add(s.NewThread("A", func(t *Thread) {
			log = append(log, "before")
			t.Scheduler().Terminate(t)
			log = append(log, "after")
		}))

		s.Run()

		Expect(log).To(Equal([]string{"before"}))
	})

	It("should skip a terminated thread for good", func() {
		a := s.NewThread("A", func(t *Thread) {
			for {
				log = append(log, "A")
				t.Scheduler().Yield()
			}
		})
		b := s.NewThread("B", func(t *Thread) {
			log = append(log, "B")
			t.Scheduler().Terminate(a)
			t.Scheduler().Yield()
			log = append(log, "B")
			t.Scheduler().Yield()
			log = append(log, "B")
		})
		s.Add(a)
		s.Add(b)

		s.Run()

		Expect(log).To(Equal([]string{"A", "B", "B", "B"}))
		Expect(a.Terminated()).To(BeTrue())
	})

	It("should finish the deferred calls of a parked thread first", func() {
		busy := false
		a := s.NewThread("A", func(t *Thread) {
			busy = true
			defer func() {
				busy = false
				log = append(log, "A released")
			}()

			for {
				t.Scheduler().YieldDisk()
			}
		})
		s.Add(a)
		s.Add(s.NewThread("B", func(t *Thread) {
			t.Scheduler().Terminate(a)

			if busy {
				log = append(log, "B sees busy")
			} else {
				log = append(log, "B sees free")
			}
		}))

		s.Run()

		Expect(log).To(Equal([]string{"A released", "B sees free"}))
		Expect(flag.Enabled()).To(BeTrue())
	})

	It("should finish its own deferred calls before the next thread", func() {
		s.Add(s.NewThread("A", func(t *Thread) {
			defer func() { log = append(log, "A deferred") }()

			t.Scheduler().Terminate(t)
		}))
		s.Add(s.NewThread("B", func(*Thread) {
			log = append(log, "B")
		}))

		s.Run()

		Expect(log).To(Equal([]string{"A deferred", "B"}))
	})

	It("should terminate a thread that never ran", func() {
		a := s.NewThread("A", func(*Thread) { log = append(log, "A") })
		s.Add(a)

		s.Terminate(a)
		s.Run()

		Expect(log).To(BeEmpty())
		Expect(names(s.Queue())).To(Equal([]string{"idle"}))
	})

	It("should run resumed threads", func() {
		var b *Thread
		b = s.NewThread("B", func(*Thread) { log = append(log, "B") })
		s.Add(s.NewThread("A", func(t *Thread) {
			log = append(log, "A")
			t.Scheduler().Resume(b)
		}))

		s.Run()

		Expect(log).To(Equal([]string{"A", "B"}))
	})

	It("should panic when adding a queued thread", func() {
		a := s.NewThread("A", func(*Thread) {})
		s.Add(a)

		Expect(func() { s.Add(a) }).To(Panic())
	})

	It("should panic when terminating an unknown thread", func() {
		a := s.NewThread("A", func(*Thread) {})

		Expect(func() { s.Terminate(a) }).To(Panic())
	})

	It("should panic when terminating the idle thread", func() {
		Expect(func() { s.Terminate(s.Idle()) }).To(Panic())
	})

	Context("with threads waiting for the disk", func() {
		It("should keep disk waiters as one segment", func() {
			var queue, disk []string
			s.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosDiskWait {
					queue, disk = snapshot(s)
				}
			}))

			diskBody := func(t *Thread) {
				t.Scheduler().YieldDisk()
				log = append(log, t.Name())
			}

			s.Add(s.NewThread("D1", diskBody))
			s.Add(s.NewThread("X", func(t *Thread) {
				t.Scheduler().Yield()
				log = append(log, "X")
			}))
			s.Add(s.NewThread("D2", diskBody))

			s.Run()

			Expect(queue).To(Equal([]string{"idle", "D1", "D2", "X"}))
			Expect(disk).To(Equal([]string{"D1", "D2"}))
			Expect(log).To(Equal([]string{"D1", "D2", "X"}))
			Expect(s.DiskWaiting()).To(BeEmpty())
		})

		It("should report disk waiters", func() {
			var waiting []string
			var flagged bool

			d := s.NewThread("D", func(t *Thread) {
				t.Scheduler().YieldDisk()
			})
			s.Add(d)
			s.Add(s.NewThread("A", func(t *Thread) {
				waiting = names(t.Scheduler().DiskWaiting())
				flagged = d.DiskWaiting()
			}))

			s.Run()

			Expect(waiting).To(Equal([]string{"D"}))
			Expect(flagged).To(BeTrue())
			Expect(d.DiskWaiting()).To(BeFalse())
		})

		It("should keep polling until the device is ready", func() {
			polls := 0
			s.Add(s.NewThread("D", func(t *Thread) {
				for polls < 5 {
					polls++
					t.Scheduler().YieldDisk()
				}
				log = append(log, "done")
			}))
			s.Add(s.NewThread("A", func(t *Thread) {
				for i := 0; i < 3; i++ {
					log = append(log, "A")
					t.Scheduler().Yield()
				}
			}))

			s.Run()

			Expect(polls).To(Equal(5))
			Expect(log).To(ContainElement("done"))
			Expect(log).To(HaveLen(4))
		})

		It("should drop a terminated disk waiter from the segment", func() {
			var d *Thread
			d = s.NewThread("D", func(t *Thread) {
				t.Scheduler().YieldDisk()
				log = append(log, "D")
			})
			s.Add(d)
			s.Add(s.NewThread("A", func(t *Thread) {
				t.Scheduler().Terminate(d)
				log = append(log, "A")
			}))

			s.Run()

			Expect(log).To(Equal([]string{"A"}))
			Expect(s.DiskWaiting()).To(BeEmpty())
		})

		It("should let the idle thread wait for the disk alone", func() {
			s.YieldDisk()

			Expect(s.Current()).To(BeIdenticalTo(s.Idle()))
			Expect(s.DiskWaiting()).To(BeEmpty())
			Expect(flag.Enabled()).To(BeTrue())
		})
	})

	It("should report context switches", func() {
		var switches []string
		s.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			switch ctx.Pos {
			case HookPosContextSwitch:
				sw := ctx.Item.(Switch)
				switches = append(switches, sw.From.Name()+">"+sw.To.Name())
			case HookPosThreadTerminated:
				switches = append(switches, "end "+ctx.Item.(*Thread).Name())
			}
		}))

		s.Add(s.NewThread("A", func(t *Thread) {
			t.Scheduler().Yield()
		}))

		s.Run()

		Expect(switches).To(Equal([]string{
			"idle>A", "A>idle", "idle>A", "end A", "A>idle",
		}))
	})
})

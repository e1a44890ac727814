// Package monitoring serves the state of a running kernel over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/kcore/kernel"
	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/mem/vm/vmpool"
	"github.com/sarchlab/kcore/sched"
	"github.com/sarchlab/kcore/sim"
)

// Monitor turns a kernel into a server that reports its pools, page tables,
// and threads.
type Monitor struct {
	portNumber int
	server     *http.Server

	lock       sync.Mutex
	framePools []*frame.Pool
	pageTables []*paging.PageTable
	vmPools    []*vmpool.VMPool
	scheduler  *sched.Scheduler
	components []sim.Named

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor. Port 0 picks a random
// port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		slog.Warn("monitor port is not allowed, using a random port",
			"port", portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterKernel registers all the components of a kernel.
func (m *Monitor) RegisterKernel(k *kernel.Kernel) {
	m.RegisterFramePool(k.KernelPool)
	m.RegisterFramePool(k.ProcessPool)
	m.RegisterPageTable(k.PageTable)

	for _, p := range k.VMPools() {
		m.RegisterVMPool(p)
	}

	m.RegisterScheduler(k.Scheduler)

	for _, c := range k.Components() {
		m.RegisterComponent(c)
	}
}

// RegisterFramePool registers a frame pool to be monitored.
func (m *Monitor) RegisterFramePool(p *frame.Pool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.framePools = append(m.framePools, p)
}

// RegisterPageTable registers a page table to be monitored.
func (m *Monitor) RegisterPageTable(pt *paging.PageTable) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.pageTables = append(m.pageTables, pt)
}

// RegisterVMPool registers a VM pool to be monitored.
func (m *Monitor) RegisterVMPool(p *vmpool.VMPool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.vmPools = append(m.vmPools, p)
}

// RegisterScheduler sets the scheduler whose threads are reported.
func (m *Monitor) RegisterScheduler(s *sched.Scheduler) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.scheduler = s
}

// RegisterComponent registers a component whose fields can be inspected.
func (m *Monitor) RegisterComponent(c sim.Named) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.components = append(m.components, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a progress bar.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the routes that the monitor serves.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pools", m.listFramePools)
	r.HandleFunc("/api/pool/{name}", m.framePoolDetails)
	r.HandleFunc("/api/pool/{name}/map.png", m.framePoolMap)
	r.HandleFunc("/api/pagetables", m.listPageTables)
	r.HandleFunc("/api/vmpools", m.listVMPools)
	r.HandleFunc("/api/threads", m.listThreads)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor in the background and returns its URL.
func (m *Monitor) StartServer() string {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", m.portNumber))
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring kernel with %s\n", url)

	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			dieOnErr(err)
		}
	}()

	return url
}

// OpenInBrowser opens a page of the monitor in the default browser.
func (m *Monitor) OpenInBrowser(url string) {
	err := browser.OpenURL(url + "/api/pools")
	if err != nil {
		slog.Warn("cannot open browser", "url", url, "error", err)
	}
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type framePoolRsp struct {
	Name       string `json:"name"`
	BaseFrame  uint32 `json:"base_frame"`
	NumFrames  uint32 `json:"num_frames"`
	InfoFrame  uint32 `json:"info_frame"`
	FreeFrames uint32 `json:"free_frames"`
}

type frameRunRsp struct {
	State string `json:"state"`
	First uint32 `json:"first"`
	Count uint32 `json:"count"`
}

type framePoolDetailRsp struct {
	framePoolRsp
	Runs []frameRunRsp `json:"runs"`
}

func makeFramePoolRsp(p *frame.Pool) framePoolRsp {
	return framePoolRsp{
		Name:       p.Name(),
		BaseFrame:  p.BaseFrame(),
		NumFrames:  p.NumFrames(),
		InfoFrame:  p.InfoFrame(),
		FreeFrames: p.FreeFrames(),
	}
}

func (m *Monitor) listFramePools(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	rsp := make([]framePoolRsp, 0, len(m.framePools))
	for _, p := range m.framePools {
		rsp = append(rsp, makeFramePoolRsp(p))
	}
	m.lock.Unlock()

	writeJSON(w, rsp)
}

// frameRuns groups the frames into runs. A head frame starts a new run and
// the used frames after it join that run.
func frameRuns(p *frame.Pool) []frameRunRsp {
	var runs []frameRunRsp

	for i, s := range p.States() {
		n := len(runs)
		frameNo := p.BaseFrame() + uint32(i)

		switch {
		case s == frame.Used && n > 0 &&
			runs[n-1].State != frame.Free.String():
			runs[n-1].Count++
		case s == frame.Free && n > 0 && runs[n-1].State == s.String():
			runs[n-1].Count++
		default:
			runs = append(runs, frameRunRsp{
				State: s.String(),
				First: frameNo,
				Count: 1,
			})
		}
	}

	return runs
}

func (m *Monitor) framePoolDetails(w http.ResponseWriter, r *http.Request) {
	p := m.findFramePoolOr404(w, mux.Vars(r)["name"])
	if p == nil {
		return
	}

	writeJSON(w, framePoolDetailRsp{
		framePoolRsp: makeFramePoolRsp(p),
		Runs:         frameRuns(p),
	})
}

func (m *Monitor) framePoolMap(w http.ResponseWriter, r *http.Request) {
	p := m.findFramePoolOr404(w, mux.Vars(r)["name"])
	if p == nil {
		return
	}

	w.Header().Set("Content-Type", "image/png")

	err := WriteFrameMap(w, p)
	dieOnErr(err)
}

func (m *Monitor) findFramePoolOr404(
	w http.ResponseWriter,
	name string,
) *frame.Pool {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, p := range m.framePools {
		if p.Name() == name {
			return p
		}
	}

	http.Error(w, "Frame pool not found", http.StatusNotFound)

	return nil
}

type pageTableRsp struct {
	Name           string `json:"name"`
	DirectoryFrame uint32 `json:"directory_frame"`
	MappedPages    int    `json:"mapped_pages"`
	NumVMPools     int    `json:"num_vm_pools"`
}

func (m *Monitor) listPageTables(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	tables := append([]*paging.PageTable(nil), m.pageTables...)
	m.lock.Unlock()

	rsp := make([]pageTableRsp, 0, len(tables))
	for _, pt := range tables {
		mapped := 0
		pt.Walk(func(uint32, paging.Entry) { mapped++ })

		rsp = append(rsp, pageTableRsp{
			Name:           pt.Name(),
			DirectoryFrame: pt.DirectoryFrame(),
			MappedPages:    mapped,
			NumVMPools:     len(pt.Pools()),
		})
	}

	writeJSON(w, rsp)
}

type vmPoolRsp struct {
	Name             string `json:"name"`
	Base             uint32 `json:"base"`
	Size             uint32 `json:"size"`
	FreeRegions      uint32 `json:"free_regions"`
	AllocatedRegions uint32 `json:"allocated_regions"`
}

// listVMPools reports region counts only. Reading the region lists would go
// through the MMU, which belongs to the running thread.
func (m *Monitor) listVMPools(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	rsp := make([]vmPoolRsp, 0, len(m.vmPools))
	for _, p := range m.vmPools {
		rsp = append(rsp, vmPoolRsp{
			Name:             p.Name(),
			Base:             p.Base(),
			Size:             p.Size(),
			FreeRegions:      p.NumFreeRegions(),
			AllocatedRegions: p.NumAllocatedRegions(),
		})
	}
	m.lock.Unlock()

	writeJSON(w, rsp)
}

type threadRsp struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	DiskWaiting bool   `json:"disk_waiting"`
}

type threadsRsp struct {
	Ready       []threadRsp `json:"ready"`
	DiskWaiting []threadRsp `json:"disk_waiting"`
}

func (m *Monitor) listThreads(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	s := m.scheduler
	m.lock.Unlock()

	if s == nil {
		http.Error(w, "No scheduler registered", http.StatusNotFound)
		return
	}

	current := s.Current()
	convert := func(threads []*sched.Thread) []threadRsp {
		rsp := make([]threadRsp, 0, len(threads))
		for _, t := range threads {
			rsp = append(rsp, threadRsp{
				ID:          t.ID(),
				Name:        t.Name(),
				Running:     t == current,
				DiskWaiting: t.DiskWaiting(),
			})
		}

		return rsp
	}

	writeJSON(w, threadsRsp{
		Ready:       convert(s.Queue()),
		DiskWaiting: convert(s.DiskWaiting()),
	})
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}
	m.lock.Unlock()

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) sim.Named {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	http.Error(w, "Component not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}

package cmd

import (
	"bytes"
	"path/filepath"

	"github.com/spf13/pflag"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("kcore", func() {
	var out *bytes.Buffer

	execute := func(args ...string) error {
		for _, c := range rootCmd.Commands() {
			c.Flags().VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}

		out = new(bytes.Buffer)
		rootCmd.SetOut(out)
		rootCmd.SetErr(GinkgoWriter)
		rootCmd.SetArgs(args)

		_, err := rootCmd.ExecuteC()

		return err
	}

	It("should run the memory workload", func() {
		Expect(execute("run", "--workload", "memory", "--rounds", "4")).
			To(Succeed())

		Expect(out.String()).To(ContainSubstring("memory: 8 regions"))
		Expect(out.String()).To(ContainSubstring("Page Fault"))
	})

	It("should reject unknown workloads", func() {
		Expect(execute("run", "--workload", "games")).NotTo(Succeed())
	})

	It("should record and report events", func() {
		path := filepath.Join(GinkgoT().TempDir(), "events")

		Expect(execute("run", "--workload", "threads",
			"--record", "--record-path", path)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("threads: 4 threads"))

		Expect(execute("report", path+".sqlite3")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Disk Op"))
		Expect(out.String()).To(ContainSubstring("Context Switch"))
	})

	It("should draw the frame map", func() {
		path := filepath.Join(GinkgoT().TempDir(), "map.png")

		Expect(execute("framemap", path, "--touch", "4")).To(Succeed())
		Expect(path).To(BeARegularFile())
	})
})

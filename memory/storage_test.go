package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/memory"
)

var _ = Describe("Storage", func() {
	It("should read and write in single unit", func() {
		storage := memory.NewStorage(4096)
		Expect(storage.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(0, 2)
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = storage.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := memory.NewStorage(8192)
		Expect(storage.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(4094, 4)
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should read untouched memory as zero", func() {
		storage := memory.NewStorage(1 << 20)

		res, err := storage.Read(0x8000, 3)

		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal([]byte{0, 0, 0}))
	})

	It("should return error if accessing over the capacity", func() {
		storage := memory.NewStorage(4096)
		err := storage.Write(4096, []byte{1})
		Expect(err).To(MatchError(memory.ErrOutOfRange))

		_, err = storage.Read(4097, 1)
		Expect(err).To(MatchError(memory.ErrOutOfRange))
	})

	It("should store words in little endian", func() {
		storage := memory.NewStorage(8192)
		Expect(storage.WriteUint32(4094, 0x11223344)).To(Succeed())

		raw, _ := storage.Read(4094, 4)
		Expect(raw).To(Equal([]byte{0x44, 0x33, 0x22, 0x11}))

		v, err := storage.ReadUint32(4094)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(0x11223344)))
	})

	It("should zero a range", func() {
		storage := memory.NewStorage(8192)
		Expect(storage.Write(10, []byte{9, 9, 9})).To(Succeed())

		Expect(storage.Zero(11, 1)).To(Succeed())

		res, _ := storage.Read(10, 3)
		Expect(res).To(Equal([]byte{9, 0, 9}))
	})
})

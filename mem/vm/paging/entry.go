package paging

// PageSize is the size of a virtual page in bytes.
const PageSize = 4096

// EntriesPerTable is the number of entries in a page directory or table.
const EntriesPerTable = 1024

// selfEntry is the index of the recursive entry. In the directory it maps the
// directory itself. In a page table it only records the table's own frame.
const selfEntry = EntriesPerTable - 1

// EntryFlag is a flag kept in the low 12 bits of an entry.
type EntryFlag uint32

// Entry flags.
const (
	FlagPresent  EntryFlag = 1 << 0
	FlagWritable EntryFlag = 1 << 1
	FlagUser     EntryFlag = 1 << 2
)

const (
	flagMask  = 0xFFF
	frameMask = 0xFFFFF000
)

// Entry is a page directory entry or a page table entry.
type Entry uint32

// MakeEntry creates an entry that points to the frame.
func MakeEntry(frameNo uint32, flags EntryFlag) Entry {
	return Entry(frameNo<<12 | uint32(flags)&flagMask)
}

// HasFlags returns true if all the flags are set.
func (e Entry) HasFlags(flags EntryFlag) bool {
	return uint32(e)&uint32(flags) == uint32(flags)
}

// SetFlags returns the entry with the flags set.
func (e Entry) SetFlags(flags EntryFlag) Entry {
	return e | Entry(flags)
}

// ClearFlags returns the entry with the flags cleared.
func (e Entry) ClearFlags(flags EntryFlag) Entry {
	return e &^ Entry(flags)
}

// Present checks the present flag.
func (e Entry) Present() bool {
	return e.HasFlags(FlagPresent)
}

// Frame returns the frame number the entry points to.
func (e Entry) Frame() uint32 {
	return uint32(e) >> 12
}

// Address returns the physical address the entry points to.
func (e Entry) Address() uint32 {
	return uint32(e) & frameMask
}

// DirectoryIndex returns the page directory index of a virtual address.
func DirectoryIndex(addr uint32) uint32 {
	return addr >> 22
}

// TableIndex returns the page table index of a virtual address.
func TableIndex(addr uint32) uint32 {
	return (addr >> 12) & selfEntry
}

// Offset returns the offset of a virtual address inside its page.
func Offset(addr uint32) uint32 {
	return addr & flagMask
}

// PDEAddress returns the virtual address of the i-th page directory entry.
// It goes through the recursive mapping twice.
func PDEAddress(i uint32) uint32 {
	return 0xFFFFF000 | i<<2
}

// PTEAddress returns the virtual address of the i-th entry of the page table
// installed at directory index d.
func PTEAddress(d, i uint32) uint32 {
	return 0xFFC00000 | d<<12 | i<<2
}

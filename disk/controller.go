package disk

import (
	"encoding/binary"
	"log"
	"sync"

	"github.com/sarchlab/kcore/memory"
)

// BlockSize is the size of a disk block in bytes.
const BlockSize = 512

// WordsPerBlock is the number of 16-bit words in a block.
const WordsPerBlock = BlockSize / 2

// Operation is the kind of a disk operation.
type Operation int

// Disk operations.
const (
	OpRead Operation = iota
	OpWrite
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// A Controller is the port interface of a disk controller. Data moves one
// 16-bit word at a time through the data port.
type Controller interface {
	IssueOperation(op Operation, block uint32)
	IsReady() bool
	ReadWord() uint16
	WriteWord(w uint16)
}

// SimpleController is an ATA-like controller that keeps the disk content in
// a storage. It reports ready after a fixed number of status polls.
type SimpleController struct {
	lock sync.Mutex

	storage   *memory.Storage
	numBlocks uint32
	latency   int

	op        Operation
	block     uint32
	pollsLeft int
	word      uint32
	active    bool
}

// NewSimpleController creates a controller with numBlocks blocks that needs
// latency polls before each operation is ready.
func NewSimpleController(numBlocks uint32, latency int) *SimpleController {
	return &SimpleController{
		storage:   memory.NewStorage(uint64(numBlocks) * BlockSize),
		numBlocks: numBlocks,
		latency:   latency,
	}
}

// NumBlocks returns the number of blocks of the disk.
func (c *SimpleController) NumBlocks() uint32 {
	return c.numBlocks
}

// Storage returns the disk content.
func (c *SimpleController) Storage() *memory.Storage {
	return c.storage
}

// IssueOperation starts an operation on a block.
func (c *SimpleController) IssueOperation(op Operation, block uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if block >= c.numBlocks {
		log.Panicf("block %d is beyond the disk", block)
	}

	c.op = op
	c.block = block
	c.pollsLeft = c.latency
	c.word = 0
	c.active = true
}

// IsReady polls the status of the controller.
func (c *SimpleController) IsReady() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.pollsLeft > 0 {
		c.pollsLeft--
		return false
	}

	return true
}

func (c *SimpleController) nextWordAddr(op Operation) uint64 {
	if !c.active || c.op != op || c.pollsLeft > 0 {
		log.Panicf("no %s operation is ready", op)
	}

	addr := uint64(c.block)*BlockSize + uint64(c.word)*2

	c.word++
	if c.word == WordsPerBlock {
		c.active = false
	}

	return addr
}

// ReadWord reads the next word of the block being read.
func (c *SimpleController) ReadWord() uint16 {
	c.lock.Lock()
	defer c.lock.Unlock()

	data, err := c.storage.Read(c.nextWordAddr(OpRead), 2)
	if err != nil {
		log.Panic(err)
	}

	return binary.LittleEndian.Uint16(data)
}

// WriteWord writes the next word of the block being written.
func (c *SimpleController) WriteWord(w uint16) {
	c.lock.Lock()
	defer c.lock.Unlock()

	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, w)

	err := c.storage.Write(c.nextWordAddr(OpWrite), data)
	if err != nil {
		log.Panic(err)
	}
}

package sim

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

var guestEndian = binary.LittleEndian

// Device is a memory-mapped device on the physical bus.
type Device interface {
	// Read reads from the device at the given offset.
	Read(offset uint64, size int) (uint64, error)
	// Write writes to the device at the given offset.
	Write(offset uint64, size int, value uint64) error
	// Size returns the size of the device's address space.
	Size() uint64
}

// RAM is a contiguous region of guest memory.
type RAM struct {
	Data []byte
}

// NewRAM allocates a zeroed memory region of the given size.
func NewRAM(size uint64) *RAM {
	return &RAM{Data: make([]byte, size)}
}

// Read implements Device.
func (m *RAM) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("ram read out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}

	switch size {
	case 1:
		return uint64(m.Data[offset]), nil
	case 2:
		return uint64(guestEndian.Uint16(m.Data[offset:])), nil
	case 4:
		return uint64(guestEndian.Uint32(m.Data[offset:])), nil
	case 8:
		return guestEndian.Uint64(m.Data[offset:]), nil
	default:
		return 0, fmt.Errorf("invalid read size: %d", size)
	}
}

// Write implements Device.
func (m *RAM) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return fmt.Errorf("ram write out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}

	switch size {
	case 1:
		m.Data[offset] = byte(value)
	case 2:
		guestEndian.PutUint16(m.Data[offset:], uint16(value))
	case 4:
		guestEndian.PutUint32(m.Data[offset:], uint32(value))
	case 8:
		guestEndian.PutUint64(m.Data[offset:], value)
	default:
		return fmt.Errorf("invalid write size: %d", size)
	}
	return nil
}

// Size implements Device.
func (m *RAM) Size() uint64 {
	return uint64(len(m.Data))
}

// WriteAt implements io.WriterAt for loading guest images.
func (m *RAM) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.Data)) {
		return 0, fmt.Errorf("write offset out of bounds")
	}
	n := copy(m.Data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Console is a byte-wide output port. Stores emit the low byte to the
// attached writer; loads return the number of bytes written so far.
type Console struct {
	Output io.Writer

	mu      sync.Mutex
	written uint64
}

// Read implements Device.
func (c *Console) Read(offset uint64, size int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written, nil
}

// Write implements Device.
func (c *Console) Write(offset uint64, size int, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Output != nil {
		if _, err := c.Output.Write([]byte{byte(value)}); err != nil {
			return fmt.Errorf("console write: %w", err)
		}
	}
	c.written++
	return nil
}

// Size implements Device.
func (c *Console) Size() uint64 { return 8 }

// ExitPort captures the test-completion convention: a guest store of
// (code<<1)|1 requests shutdown with that exit code.
type ExitPort struct {
	mu     sync.Mutex
	fired  bool
	code   uint64
	notify func(code uint64)
}

// NewExitPort creates an exit port that calls notify on the first
// completion store.
func NewExitPort(notify func(code uint64)) *ExitPort {
	return &ExitPort{notify: notify}
}

// Read implements Device.
func (p *ExitPort) Read(offset uint64, size int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fired {
		return p.code<<1 | 1, nil
	}
	return 0, nil
}

// Write implements Device.
func (p *ExitPort) Write(offset uint64, size int, value uint64) error {
	if value&1 == 0 {
		return nil
	}
	p.mu.Lock()
	if p.fired {
		// The first completion store wins.
		p.mu.Unlock()
		return nil
	}
	p.fired = true
	p.code = value >> 1
	notify := p.notify
	p.mu.Unlock()
	if notify != nil {
		notify(value >> 1)
	}
	return nil
}

// Size implements Device.
func (p *ExitPort) Size() uint64 { return 8 }

// ExitCode reports whether the port has fired and the captured code.
func (p *ExitPort) ExitCode() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.fired
}

type deviceMapping struct {
	base uint64
	size uint64
	dev  Device
}

// Bus routes physical accesses to RAM and mapped devices. It is the
// hart.Memory implementation handed to every hart in the machine.
type Bus struct {
	RAM     *RAM
	RAMBase uint64

	devices []deviceMapping
}

// NewBus creates a bus with RAM mapped at base.
func NewBus(base, ramSize uint64) *Bus {
	return &Bus{
		RAM:     NewRAM(ramSize),
		RAMBase: base,
	}
}

// Map adds a device mapping at base. Mappings must not overlap RAM or
// each other; the first match wins on lookup.
func (b *Bus) Map(base uint64, dev Device) {
	b.devices = append(b.devices, deviceMapping{base: base, size: dev.Size(), dev: dev})
}

func (b *Bus) find(addr uint64) (Device, uint64, error) {
	// Fast path for RAM.
	if addr >= b.RAMBase && addr < b.RAMBase+b.RAM.Size() {
		return b.RAM, addr - b.RAMBase, nil
	}

	for _, m := range b.devices {
		if addr >= m.base && addr < m.base+m.size {
			return m.dev, addr - m.base, nil
		}
	}

	return nil, 0, fmt.Errorf("no device at address 0x%x", addr)
}

// Read implements hart.Memory.
func (b *Bus) Read(addr uint64, size int) (uint64, error) {
	dev, offset, err := b.find(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

// Write implements hart.Memory.
func (b *Bus) Write(addr uint64, size int, value uint64) error {
	dev, offset, err := b.find(addr)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

// LoadBytes copies data into guest memory at the given physical address.
func (b *Bus) LoadBytes(addr uint64, data []byte) error {
	if addr < b.RAMBase || addr+uint64(len(data)) > b.RAMBase+b.RAM.Size() {
		return fmt.Errorf("load outside ram: addr=0x%x len=%d", addr, len(data))
	}
	copy(b.RAM.Data[addr-b.RAMBase:], data)
	return nil
}

// Package memory implements the composable 64KiB address space described
// in spec.md §4.1: a fabric of non-overlapping subsystems (RAM, ROM,
// memory-mapped peripherals) that claim ranges and intercept reads and
// writes. The Subsystem interface is a direct descendant of the teacher's
// memory.Bank (Read/Write/PowerOn plus a DatabusVal for the last byte to
// cross the bus) generalized from a single flat RAM bank to a routed
// fabric of arbitrary subsystems.
package memory

import (
	"sort"

	"github.com/soft65c02/soft65c02/dslerr"
)

// Subsystem is the capability set every memory-mapped component implements,
// matching spec.md §9's "capability set {read, write, range}".
type Subsystem interface {
	// Read returns the byte at the subsystem-relative address addr-base.
	Read(addr uint16) uint8
	// Write stores val at the subsystem-relative address addr-base. Write
	// is a no-op (not an error) at the Subsystem level for read-only
	// subsystems; the Fabric is what surfaces WriteToReadOnly.
	Write(addr uint16, val uint8)
	// ReadOnly reports whether writes are rejected by the Fabric.
	ReadOnly() bool
	// DatabusVal returns the last byte this subsystem put on the bus,
	// for peripherals whose side effects depend on transient bus state.
	DatabusVal() uint8
}

// region pairs a Subsystem with the absolute range it was attached at.
type region struct {
	base uint16
	len  int
	sub  Subsystem
}

// Fabric routes 16-bit addresses to the Subsystem that claims them. The
// zero value is not ready for use; call NewFabric.
type Fabric struct {
	regions []region // kept sorted by base for binary search.
}

// NewFabric creates a Fabric pre-populated with a single 64KiB zero-filled
// RAM region, matching the "memory flush" reset state in spec.md §4.4.
func NewFabric() *Fabric {
	f := &Fabric{}
	f.Reset()
	return f
}

// Reset drops all subsystems and installs a single 64KiB RAM region,
// implementing "memory flush" (spec.md §4.1/§4.4).
func (f *Fabric) Reset() {
	f.regions = []region{{base: 0, len: 0x10000, sub: NewRAM(0x10000)}}
}

// Attach installs sub to own addresses [base, base+length). Fails with
// dslerr.OverlappingSubsystem if the new range intersects an existing one
// other than the default full-range RAM Reset installs. Attaching over
// part of that default RAM is the normal way test setup carves out ROM or
// peripheral windows, so Attach first splits the default RAM region around
// the new range (preserving whatever bytes were already written into it)
// before checking for genuine overlaps against other subsystems. Only the
// untouched default RAM is carved: once it has been split, the remaining
// RAM windows count as existing subsystems and a later Attach over them
// fails with OverlappingSubsystem.
func (f *Fabric) Attach(base uint16, sub Subsystem, length int) error {
	f.carveDefaultRAM(base, length)
	newEnd := int(base) + length
	for _, r := range f.regions {
		existingEnd := int(r.base) + r.len
		if int(base) < existingEnd && newEnd > int(r.base) {
			return dslerr.OverlappingSubsystem{
				Base: int(base), Len: length,
				OtherBase: int(r.base), OtherLen: r.len,
			}
		}
	}
	f.regions = append(f.regions, region{base: base, len: length, sub: sub})
	sort.Slice(f.regions, func(i, j int) bool { return f.regions[i].base < f.regions[j].base })
	return nil
}

// carveDefaultRAM removes [base, base+length) from the single full-range
// RAM region installed by Reset, if present, splitting it into up to two
// smaller RAM regions around the hole.
func (f *Fabric) carveDefaultRAM(base uint16, length int) {
	if len(f.regions) != 1 {
		return
	}
	r := f.regions[0]
	ram, ok := r.sub.(*RAM)
	if !ok || r.base != 0 || r.len != 0x10000 {
		return
	}
	end := int(base) + length
	var out []region
	if base > 0 {
		out = append(out, region{base: 0, len: int(base), sub: ramWindow(ram, 0, int(base))})
	}
	if end < 0x10000 {
		out = append(out, region{base: uint16(end), len: 0x10000 - end, sub: ramWindow(ram, end, 0x10000-end)})
	}
	f.regions = out
}

func (f *Fabric) find(addr uint16) (*region, error) {
	i := sort.Search(len(f.regions), func(i int) bool {
		return int(f.regions[i].base)+f.regions[i].len > int(addr)
	})
	if i < len(f.regions) && f.regions[i].base <= addr {
		return &f.regions[i], nil
	}
	return nil, dslerr.UnmappedAddress{Addr: addr}
}

// Read returns the byte at addr, or dslerr.UnmappedAddress if no subsystem
// claims it.
func (f *Fabric) Read(addr uint16) (uint8, error) {
	r, err := f.find(addr)
	if err != nil {
		return 0, err
	}
	return r.sub.Read(addr - r.base), nil
}

// ReadSlice returns n consecutive bytes starting at addr, wrapping at
// 0xFFFF (spec.md §4.1). Crossing into a second subsystem is only honored
// when that subsystem's range begins exactly where the first one ends;
// otherwise dslerr.CrossBoundaryRead is returned.
func (f *Fabric) ReadSlice(addr uint16, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	a := addr
	lastBase, lastEnd := -1, -1
	for i := 0; i < n; i++ {
		r, err := f.find(a)
		if err != nil {
			return nil, err
		}
		if lastBase != -1 && int(r.base) != lastBase && int(r.base) != lastEnd%0x10000 {
			return nil, dslerr.CrossBoundaryRead{Addr: addr, Len: n}
		}
		lastBase = int(r.base)
		lastEnd = int(r.base) + r.len
		b, err := f.Read(a)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		a = a + 1 // uint16 wraps 0xFFFF -> 0x0000 naturally.
	}
	return out, nil
}

// Write stores val at addr, or dslerr.WriteToReadOnly if the owning
// subsystem is ROM, or dslerr.UnmappedAddress if nothing claims addr.
func (f *Fabric) Write(addr uint16, val uint8) error {
	r, err := f.find(addr)
	if err != nil {
		return err
	}
	if r.sub.ReadOnly() {
		return dslerr.WriteToReadOnly{Addr: addr}
	}
	r.sub.Write(addr-r.base, val)
	return nil
}

// WriteSlice writes consecutive bytes starting at addr, wrapping at 0xFFFF.
func (f *Fabric) WriteSlice(addr uint16, data []byte) error {
	a := addr
	for _, b := range data {
		if err := f.Write(a, b); err != nil {
			return err
		}
		a = a + 1
	}
	return nil
}

// Fill writes value to every address in the inclusive range [start, end],
// wrapping at 0xFFFF if end < start (spec.md §4.4/§8: "memory fill
// 0xFFFF~0x0002 0x42 writes exactly four bytes").
func (f *Fabric) Fill(start, end uint16, value uint8) error {
	a := start
	for {
		if err := f.Write(a, value); err != nil {
			return err
		}
		if a == end {
			return nil
		}
		a++
	}
}

// RAM is a byte-addressable, read/write, zero-initialized subsystem.
type RAM struct {
	bytes      []uint8
	databusVal uint8
}

// NewRAM allocates a zero-filled RAM subsystem of the given size.
func NewRAM(size int) *RAM {
	return &RAM{bytes: make([]uint8, size)}
}

// ramWindow creates a RAM subsystem backed by a slice of an existing
// allocation's bytes, so carving the default 64KiB RAM for an Attach call
// doesn't lose whatever was already written into the carved-out area.
func ramWindow(r *RAM, start, length int) *RAM {
	return &RAM{bytes: r.bytes[start : start+length]}
}

func (r *RAM) Read(addr uint16) uint8 {
	v := r.bytes[addr]
	r.databusVal = v
	return v
}

func (r *RAM) Write(addr uint16, val uint8) {
	r.bytes[addr] = val
	r.databusVal = val
}

func (r *RAM) ReadOnly() bool    { return false }
func (r *RAM) DatabusVal() uint8 { return r.databusVal }

// ROM is byte-addressable and read-only; writes are rejected by the Fabric
// before they ever reach Write, but Write is still implemented (as a
// silent drop) to satisfy the Subsystem interface, matching the teacher's
// Bank.Write contract for ROM-like regions.
type ROM struct {
	bytes      []uint8
	databusVal uint8
}

// NewROM creates a ROM subsystem preloaded with data.
func NewROM(data []byte) *ROM {
	b := make([]byte, len(data))
	copy(b, data)
	return &ROM{bytes: b}
}

func (r *ROM) Read(addr uint16) uint8 {
	v := r.bytes[addr]
	r.databusVal = v
	return v
}

func (r *ROM) Write(addr uint16, val uint8) {}
func (r *ROM) ReadOnly() bool               { return true }
func (r *ROM) DatabusVal() uint8            { return r.databusVal }

// Peripheral wraps a set of caller-supplied read/write functions so a
// memory-mapped device (screen buffer, keyboard port, etc.) can be built
// without a bespoke Subsystem implementation per device. Side effects live
// entirely in the closures; the Fabric only routes addresses to them. A
// Peripheral built with readOnly true rejects writes at the Fabric level
// exactly like ROM.
type Peripheral struct {
	ReadFunc   func(addr uint16) uint8
	WriteFunc  func(addr uint16, val uint8)
	readOnly   bool
	databusVal uint8
}

// NewPeripheral builds a read/write Peripheral from callbacks.
func NewPeripheral(read func(uint16) uint8, write func(uint16, uint8)) *Peripheral {
	return &Peripheral{ReadFunc: read, WriteFunc: write}
}

// NewReadOnlyPeripheral builds a Peripheral whose writes are rejected by
// the Fabric as dslerr.WriteToReadOnly, for devices like a status port
// that only ever produce bytes.
func NewReadOnlyPeripheral(read func(uint16) uint8) *Peripheral {
	return &Peripheral{ReadFunc: read, readOnly: true}
}

func (p *Peripheral) Read(addr uint16) uint8 {
	v := p.ReadFunc(addr)
	p.databusVal = v
	return v
}

func (p *Peripheral) Write(addr uint16, val uint8) {
	if p.WriteFunc != nil {
		p.WriteFunc(addr, val)
	}
	p.databusVal = val
}

func (p *Peripheral) ReadOnly() bool    { return p.readOnly }
func (p *Peripheral) DatabusVal() uint8 { return p.databusVal }

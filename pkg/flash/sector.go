package flash

import "github.com/pkg/errors"

// Sector is one independently erasable region.
type Sector struct {
	Start uint32
	Size  uint32
}

// End returns the address past the last byte of the sector.
func (s Sector) End() uint32 {
	return s.Start + s.Size
}

// Layout is the sector map, indexed by sector number.
type Layout []Sector

const (
	kib = 1024
)

// STM32F4Layout is the 512 KiB memory map of the STM32F401/F411:
// four 16 KiB, one 64 KiB and three 128 KiB sectors.
var STM32F4Layout = Layout{
	{Start: 0x08000000, Size: 16 * kib},
	{Start: 0x08004000, Size: 16 * kib},
	{Start: 0x08008000, Size: 16 * kib},
	{Start: 0x0800C000, Size: 16 * kib},
	{Start: 0x08010000, Size: 64 * kib},
	{Start: 0x08020000, Size: 128 * kib},
	{Start: 0x08040000, Size: 128 * kib},
	{Start: 0x08060000, Size: 128 * kib},
}

// Sector maps an address to its sector number.
func (l Layout) Sector(addr uint32) (int, error) {
	for n, s := range l {
		if addr >= s.Start && addr < s.End() {
			return n, nil
		}
	}
	return 0, errors.Wrapf(ErrAddress, "%#08x", addr)
}

// Span returns the first sector and the number of sectors covering
// [addr, addr+size).
func (l Layout) Span(addr, size uint32) (first, count int, err error) {
	if size == 0 {
		return 0, 0, nil
	}
	if first, err = l.Sector(addr); err != nil {
		return
	}
	last, err := l.Sector(addr + size - 1)
	if err != nil {
		return
	}
	return first, last - first + 1, nil
}

// Base returns the first address of the layout.
func (l Layout) Base() uint32 {
	if len(l) == 0 {
		return 0
	}
	return l[0].Start
}

// Size returns the total size of the layout.
func (l Layout) Size() uint32 {
	if len(l) == 0 {
		return 0
	}
	return l[len(l)-1].End() - l[0].Start
}

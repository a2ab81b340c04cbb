// Package symtab indexes the symbol tables of executable images so that a
// name can be resolved to an address without a dynamic loader.
package symtab

import (
	"bytes"
	"debug/elf"
	"debug/gosym"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Source identifies the table a symbol was found in.
type Source string

const (
	SourceSymtab  Source = "symtab"
	SourceDynsym  Source = "dynsym"
	SourcePclntab Source = "pclntab"
)

// Location describes a resolved symbol.
type Location struct {
	Image  string `json:"image"`
	Name   string `json:"name"`
	Addr   uint64 `json:"addr"`
	Source Source `json:"source"`
}

// Format is the object file format of an image.
type Format string

const (
	FormatELF   Format = "elf"
	FormatMachO Format = "macho"
	FormatPE    Format = "pe"
)

type symbol struct {
	addr   uint64
	source Source
}

// Image holds the defined symbols of a single executable or shared object.
type Image struct {
	Path   string
	Format Format

	symbols map[string]symbol
}

// Lookup resolves name in the image. Symbols with a zero address are never
// reported.
func (img *Image) Lookup(name string) (Location, bool) {
	sym, ok := img.symbols[name]
	if !ok || sym.addr == 0 {
		return Location{}, false
	}
	return Location{
		Image:  img.Path,
		Name:   name,
		Addr:   sym.addr,
		Source: sym.source,
	}, true
}

// Len returns the number of indexed symbols.
func (img *Image) Len() int {
	return len(img.symbols)
}

// add records a definition. The first table to define a name wins, so
// loaders add the most specific tables first.
func (img *Image) add(name string, addr uint64, source Source) {
	if name == "" || addr == 0 {
		return
	}
	if _, exists := img.symbols[name]; exists {
		return
	}
	img.symbols[name] = symbol{addr: addr, source: source}
}

var (
	elfMagic    = []byte("\x7fELF")
	peMagic     = []byte("MZ")
	machoMagics = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce},
		{0xfe, 0xed, 0xfa, 0xcf},
		{0xce, 0xfa, 0xed, 0xfe},
		{0xcf, 0xfa, 0xed, 0xfe},
	}
)

// OpenImage reads and indexes the symbols of the image at path.
func OpenImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, err := readImage(path, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func readImage(path string, r io.ReaderAt) (img *Image, err error) {
	// The debug/* parsers panic on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("parsing image: %v", p)
		}
	}()

	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, 0); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}

	img = &Image{Path: path, symbols: make(map[string]symbol)}
	switch {
	case bytes.HasPrefix(magic, elfMagic):
		img.Format = FormatELF
		err = img.loadELF(r)
	case isMachO(magic):
		img.Format = FormatMachO
		err = img.loadMachO(r)
	case bytes.HasPrefix(magic, peMagic):
		img.Format = FormatPE
		err = img.loadPE(r)
	default:
		return nil, fmt.Errorf("unrecognized object format (magic %x)", magic)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func isMachO(magic []byte) bool {
	for _, m := range machoMagics {
		if bytes.Equal(magic, m) {
			return true
		}
	}
	return false
}

func (img *Image) loadELF(r io.ReaderAt) error {
	f, err := elf.NewFile(r)
	if err != nil {
		return fmt.Errorf("parsing elf: %w", err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return fmt.Errorf("reading symtab: %w", err)
	}
	img.addELF(syms, SourceSymtab)

	dynsyms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return fmt.Errorf("reading dynsym: %w", err)
	}
	img.addELF(dynsyms, SourceDynsym)

	text := f.Section(".text")
	if text == nil {
		return nil
	}
	for _, name := range []string{".gopclntab", ".data.rel.ro.gopclntab"} {
		if sect := f.Section(name); sect != nil {
			data, err := sect.Data()
			if err != nil {
				return fmt.Errorf("reading %s: %w", name, err)
			}
			return img.addPclntab(data, text.Addr)
		}
	}

	// Linking a PIE with -s drops the .data.rel.ro.gopclntab header, leaving
	// the table inside .data.rel.ro. Find it by its header instead.
	for _, name := range []string{".data.rel.ro", ".rodata"} {
		sect := f.Section(name)
		if sect == nil || sect.Type == elf.SHT_NOBITS {
			continue
		}
		data, err := sect.Data()
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		for _, off := range pclntabOffsets(data, f.ByteOrder) {
			if err := img.tryPclntab(data[off:], text.Addr); err == nil {
				return nil
			}
		}
	}
	return nil
}

// tryPclntab indexes data if it parses as a pclntab with at least one
// function.
func (img *Image) tryPclntab(data []byte, textStart uint64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parsing pclntab: %v", p)
		}
	}()
	table, err := gosym.NewTable(nil, gosym.NewLineTable(data, textStart))
	if err != nil {
		return fmt.Errorf("parsing pclntab: %w", err)
	}
	if len(table.Funcs) == 0 {
		return errors.New("pclntab has no functions")
	}
	img.addFuncs(table.Funcs)
	return nil
}

// Header magics of the pclntab layouts debug/gosym understands.
var pclntabMagics = []uint32{
	0xfffffff1, // go1.20
	0xfffffff0, // go1.18
	0xfffffffa, // go1.16
	0xfffffffb, // go1.2
}

// pclntabOffsets returns the offsets in data that start a pclntab header:
// the magic, two zero bytes, the instruction size quantum and the pointer
// size.
func pclntabOffsets(data []byte, order binary.ByteOrder) []int {
	var offsets []int
	for _, magic := range pclntabMagics {
		var pattern [6]byte
		order.PutUint32(pattern[:4], magic)

		for start := 0; ; {
			i := bytes.Index(data[start:], pattern[:])
			if i < 0 {
				break
			}
			off := start + i
			if off+8 <= len(data) && validPclntabHeader(data[off+6], data[off+7]) {
				offsets = append(offsets, off)
			}
			start = off + 1
		}
	}
	return offsets
}

func validPclntabHeader(quantum, ptrSize byte) bool {
	return (quantum == 1 || quantum == 2 || quantum == 4) && (ptrSize == 4 || ptrSize == 8)
}

func (img *Image) addELF(syms []elf.Symbol, source Source) {
	for _, s := range syms {
		if s.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE, elf.STT_TLS:
			img.add(s.Name, s.Value, source)
		}
	}
}

func (img *Image) loadMachO(r io.ReaderAt) error {
	f, err := macho.NewFile(r)
	if err != nil {
		return fmt.Errorf("parsing mach-o: %w", err)
	}
	defer f.Close()

	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			if s.Sect == 0 {
				continue
			}
			img.add(strings.TrimPrefix(s.Name, "_"), s.Value, SourceSymtab)
		}
	}

	pcln, text := f.Section("__gopclntab"), f.Section("__text")
	if pcln == nil || text == nil {
		return nil
	}
	data, err := pcln.Data()
	if err != nil {
		return fmt.Errorf("reading __gopclntab: %w", err)
	}
	return img.addPclntab(data, text.Addr)
}

// loadPE indexes COFF symbols only. Go does not emit a named pclntab section
// for PE, so binaries linked with -s resolve nothing.
func (img *Image) loadPE(r io.ReaderAt) error {
	f, err := pe.NewFile(r)
	if err != nil {
		return fmt.Errorf("parsing pe: %w", err)
	}
	defer f.Close()

	var base uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		base = oh.ImageBase
	}

	for _, s := range f.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		sect := f.Sections[s.SectionNumber-1]
		img.add(s.Name, base+uint64(sect.VirtualAddress)+uint64(s.Value), SourceSymtab)
	}
	return nil
}

// addPclntab indexes every function recorded in the Go runtime's function
// table, which survives stripping.
func (img *Image) addPclntab(data []byte, textStart uint64) error {
	table, err := gosym.NewTable(nil, gosym.NewLineTable(data, textStart))
	if err != nil {
		return fmt.Errorf("parsing pclntab: %w", err)
	}
	img.addFuncs(table.Funcs)
	return nil
}

func (img *Image) addFuncs(funcs []gosym.Func) {
	for _, fn := range funcs {
		img.add(fn.Name, fn.Entry, SourcePclntab)
	}
}

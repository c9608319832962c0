package dsl

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/soft65c02/soft65c02/dslerr"
	"github.com/soft65c02/soft65c02/memory"
)

// LoadAtariXEX parses an Atari DOS executable (XEX) image: a sequence of
// segments, each `start_lo start_hi end_lo end_hi` followed by
// `end-start+1` bytes, writing each segment at its embedded start address
// (spec.md §6). A leading `0xFF 0xFF` marker per segment is accepted and
// skipped. A segment targeting 0x02E0/0x02E1 (RUNAD) records that address
// as the `RUNAD` symbol.
func LoadAtariXEX(path string, data []byte, f *memory.Fabric, syms *SymbolTable) error {
	i := 0
	for i < len(data) {
		if i+2 <= len(data) && data[i] == 0xFF && data[i+1] == 0xFF {
			i += 2
		}
		if i+4 > len(data) {
			return dslerr.FileIO{Path: path, Reason: "truncated segment header"}
		}
		start := uint16(data[i]) | uint16(data[i+1])<<8
		end := uint16(data[i+2]) | uint16(data[i+3])<<8
		i += 4
		length := int(end) - int(start) + 1
		if length < 0 || i+length > len(data) {
			return dslerr.FileIO{Path: path, Reason: "segment length exceeds file data"}
		}
		body := data[i : i+length]
		if err := f.WriteSlice(start, body); err != nil {
			return err
		}
		if start == 0x02E0 {
			if len(body) >= 2 {
				syms.Set("RUNAD", uint16(body[0])|uint16(body[1])<<8)
			} else if len(body) == 1 && int(end) >= 0x02E1 {
				lo := body[0]
				hiByte, err := f.Read(0x02E1)
				if err == nil {
					syms.Set("RUNAD", uint16(lo)|uint16(hiByte)<<8)
				}
			}
		}
		i += length
	}
	return nil
}

// LoadAppleSingle parses an AppleSingle container carrying a ProDOS file:
// a 26-byte magic/version/filler header, an entry table, a located
// data-fork entry (type 1) whose body begins with a 4-byte ProDOS header
// `{load_addr:u16 LE, length:u16 LE}` followed by the file body, written at
// load_addr (spec.md §6).
func LoadAppleSingle(path string, data []byte, f *memory.Fabric) error {
	const headerLen = 26
	if len(data) < headerLen {
		return dslerr.FileIO{Path: path, Reason: "file too short for AppleSingle header"}
	}
	magic := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	if magic != 0x00051600 {
		return dslerr.FileIO{Path: path, Reason: "bad AppleSingle magic"}
	}
	numEntries := int(uint16(data[24])<<8 | uint16(data[25]))
	offset := headerLen
	var dataFork []byte
	for e := 0; e < numEntries; e++ {
		if offset+12 > len(data) {
			return dslerr.FileIO{Path: path, Reason: "truncated entry descriptor"}
		}
		entryID := beU32(data[offset:])
		entryOffset := beU32(data[offset+4:])
		entryLength := beU32(data[offset+8:])
		offset += 12
		if entryID == 1 {
			if int(entryOffset)+int(entryLength) > len(data) {
				return dslerr.FileIO{Path: path, Reason: "data fork entry exceeds file size"}
			}
			dataFork = data[entryOffset : entryOffset+entryLength]
		}
	}
	if dataFork == nil {
		return dslerr.FileIO{Path: path, Reason: "no data fork entry found"}
	}
	if len(dataFork) < 4 {
		return dslerr.FileIO{Path: path, Reason: "data fork too short for ProDOS header"}
	}
	loadAddr := uint16(dataFork[0]) | uint16(dataFork[1])<<8
	length := uint16(dataFork[2]) | uint16(dataFork[3])<<8
	if int(4)+int(length) > len(dataFork) {
		return dslerr.FileIO{Path: path, Reason: "ProDOS body exceeds data fork size"}
	}
	body := dataFork[4 : 4+int(length)]
	return f.WriteSlice(loadAddr, body)
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

var viceSymbolLine = regexp.MustCompile(`^al\s+([0-9A-Fa-f]{6})\s+\.(\S+)$`)

// LoadViceSymbols parses a VICE monitor symbol file: one `al HHHHHH
// .name` line per symbol, the 16-bit address taken as the low 16 bits of
// the hex field, inserted with uppercase prefix-dot canonicalization
// (spec.md §4.4/§6).
func LoadViceSymbols(path, content string, syms *SymbolTable) error {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := viceSymbolLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addrWide, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			return dslerr.FileIO{Path: path, Reason: "malformed address field: " + m[1]}
		}
		syms.Set(strings.ToUpper(m[2]), uint16(addrWide&0xFFFF))
	}
	return nil
}

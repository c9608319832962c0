package dsl

import "strings"

// SymbolTable maps names to 16-bit addresses, populated by `symbols add`
// and `symbols load` (and the RUNAD entry an Atari XEX load records), and
// consulted by the expression evaluator for `$name`, `<$name`, `>$name`.
type SymbolTable struct {
	values map[string]uint16
}

// NewSymbolTable returns an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{values: make(map[string]uint16)}
}

// Set inserts or overwrites a symbol, matching spec.md §4.4's "duplicates
// overwrite" rule for `symbols add`.
func (s *SymbolTable) Set(name string, value uint16) {
	s.values[strings.ToUpper(name)] = value
}

// Get resolves a symbol by name, case-insensitively.
func (s *SymbolTable) Get(name string) (uint16, bool) {
	v, ok := s.values[strings.ToUpper(name)]
	return v, ok
}

// Reset clears the table, used on `marker`; `memory flush` leaves symbols
// in place.
func (s *SymbolTable) Reset() {
	s.values = make(map[string]uint16)
}

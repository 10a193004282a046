package ctlplane

import (
	"fmt"
	"strings"
)

// Version is the control protocol version reported by OpVersion.
const Version = 12

// Opcode selects the operation of a control request.
type Opcode uint32

const (
	OpTable Opcode = iota + 1
	OpRule
	OpStats
	OpSave
	OpSwitch
	OpLoad
	OpVersion
)

var opNames = map[Opcode]string{
	OpTable:   "table",
	OpRule:    "rule",
	OpStats:   "stats",
	OpSave:    "save",
	OpSwitch:  "switch",
	OpLoad:    "load",
	OpVersion: "version",
}

func (o Opcode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint32(o))
}

// ReadOnly reports whether o leaves the engine and hooks untouched.
func (o Opcode) ReadOnly() bool {
	switch o {
	case OpStats, OpSave, OpVersion:
		return true
	}
	return false
}

// ParseOpcode resolves an opcode by name.
func ParseOpcode(s string) (Opcode, bool) {
	s = strings.ToLower(s)
	for op, name := range opNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

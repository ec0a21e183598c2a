// Package m68k holds the small set of M68K opcode and addressing-mode
// constants the unlinker engine needs to recognize. Only the opcodes
// referenced by the ROM-recovery heuristics are named here; this is not a
// general M68K instruction set, following the pack's own style of keeping
// decode tables in one place (github.com/Urethramancer/m68k's addressing
// mode constants) instead of scattering opcode literals across files.
package m68k

// Fixed 16-bit opcode words used by the vector/trap/island recovery passes.
const (
	OpBsrL      uint16 = 0x61FF // BSR.L, dd (32-bit PC-relative displacement follows)
	OpRts       uint16 = 0x4E75 // RTS
	OpRtd       uint16 = 0x4E74 // RTD #imm
	OpBraL      uint16 = 0x60FF // BRA.L, dd (island long branch)
	OpJmpAnBase uint16 = 0x4ED0 // JMP (An), An encoded in low 3 bits (0x4ED0..0x4ED7)
)

// LeaFixedWord is the fixed 32-bit `LEA d(PC),A0` instruction (opcode word
// plus displacement) compared as one word at the head of each table-init
// subroutine (see vectortable.Extract).
const LeaFixedWord uint32 = 0x41FA000E

// GlueFamilyAOpcode is the fixed 32-bit opcode word matched by 6-byte
// vector-glue stubs (Family A, see the glue extractor).
const GlueFamilyAOpcode uint32 = 0x2F3081E2

// GlueFamilyARts is the fixed RTS trailing a Family A glue stub.
const GlueFamilyARts = OpRts

// RefKind identifies the mnemonic family of a PC-relative reference site.
type RefKind string

// Reference kinds recognized by the reference scanner (§4.6). Kinds
// beginning with "B" are branch-family instructions whose resolved
// reference is reseated to a module-relative distance (§4.9 step 7).
const (
	KindBRA RefKind = "BRA"
	KindBSR RefKind = "BSR"
	KindJSR RefKind = "JSR"
	KindJMP RefKind = "JMP"
	KindPEA RefKind = "PEA"
	KindLEA RefKind = "LEA"
)

// IsBranchKind reports whether references of this kind are reseated
// (their bytes rewritten to a distance-from-site) rather than merely
// zeroed when resolved.
func (k RefKind) IsBranchKind() bool {
	return len(k) > 0 && k[0] == 'B'
}

// OpcodePattern describes one recognized PC-relative referencing opcode:
// the fixed bits of its first word, the mask to apply before comparing,
// and the byte width of its PC-relative operand.
type OpcodePattern struct {
	Mask         uint16
	Value        uint16
	OperandWidth int
	Kind         RefKind
}

// ReferenceOpcodes is the exact table of §4.6: the recognized PC-relative
// referencing opcodes, their operand widths, and their mnemonic kind.
// Order matters only for documentation; matching tries every entry.
var ReferenceOpcodes = []OpcodePattern{
	{Mask: 0xFFFF, Value: 0x6000, OperandWidth: 2, Kind: KindBRA},
	{Mask: 0xFFFF, Value: 0x6100, OperandWidth: 2, Kind: KindBSR},
	{Mask: 0xFFFF, Value: 0x60FF, OperandWidth: 4, Kind: KindBRA},
	{Mask: 0xFFFF, Value: 0x61FF, OperandWidth: 4, Kind: KindBSR},
	{Mask: 0xFFFF, Value: 0x4EBA, OperandWidth: 2, Kind: KindJSR},
	{Mask: 0xFFFF, Value: 0x4EFA, OperandWidth: 2, Kind: KindJMP},
	{Mask: 0xFFFF, Value: 0x487A, OperandWidth: 2, Kind: KindPEA},
	// LEA d(PC),An: opcode word is 0100 AAA111 111 010 where AAA is the
	// address register (0-7); mask off the register bits, giving
	// 0x41FA..0x4FFA stepping by 0x0200.
	{Mask: 0xF1FF, Value: 0x41FA, OperandWidth: 2, Kind: KindLEA},
}

// MatchReference returns the opcode pattern matching word, if any.
func MatchReference(word uint16) (OpcodePattern, bool) {
	for _, p := range ReferenceOpcodes {
		if word&p.Mask == p.Value {
			return p, true
		}
	}
	return OpcodePattern{}, false
}

// IsReturnInstruction reports whether word is the opcode word of one of the
// return instructions used by the module-boundary engine's modguess
// heuristic, and returns that instruction's length in bytes.
//
//	RTS         4E75  (2 bytes)
//	RTD #imm    4E74  (4 bytes)
//	BRA.L       60FF  (6 bytes)
//	JMP (An)    4ED0..4ED7 (2 bytes)
func IsReturnInstruction(word uint16) (length int, ok bool) {
	switch {
	case word == OpRts:
		return 2, true
	case word == OpRtd:
		return 4, true
	case word == OpBraL:
		return 6, true
	case word&0xFFF8 == OpJmpAnBase:
		return 2, true
	}
	return 0, false
}

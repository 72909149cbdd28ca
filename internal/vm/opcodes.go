package vm

// Opcode is a single VM instruction.
type Opcode byte

const (
	OpConstant Opcode = iota // 2-byte constant index
	OpNil
	OpTrue
	OpFalse
	OpPop

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual

	OpNegate
	OpNot

	OpJump        // 2-byte absolute target
	OpJumpIfFalse // 2-byte absolute target

	OpDefineGlobal // 2-byte name constant index
	OpExportGlobal // 2-byte name constant index, marks the binding public
	OpGetGlobal    // 2-byte name constant index
	OpSetGlobal    // 2-byte name constant index

	OpGetLocal // 1-byte slot
	OpSetLocal // 1-byte slot

	OpCall      // 1-byte argument count
	OpReturn    // return value on stack top
	OpReturnNil

	OpGetMember // 2-byte name constant index
	OpImport    // 2-byte specifier index, 2-byte local name index
)

var opcodeNames = map[Opcode]string{
	OpConstant:     "CONSTANT",
	OpNil:          "NIL",
	OpTrue:         "TRUE",
	OpFalse:        "FALSE",
	OpPop:          "POP",
	OpAdd:          "ADD",
	OpSub:          "SUB",
	OpMul:          "MUL",
	OpDiv:          "DIV",
	OpMod:          "MOD",
	OpEqual:        "EQ",
	OpNotEqual:     "NEQ",
	OpLess:         "LT",
	OpLessEqual:    "LE",
	OpGreater:      "GT",
	OpGreaterEqual: "GE",
	OpNegate:       "NEGATE",
	OpNot:          "NOT",
	OpJump:         "JUMP",
	OpJumpIfFalse:  "JUMP_IF_FALSE",
	OpDefineGlobal: "DEFINE_GLOBAL",
	OpExportGlobal: "EXPORT_GLOBAL",
	OpGetGlobal:    "GET_GLOBAL",
	OpSetGlobal:    "SET_GLOBAL",
	OpGetLocal:     "GET_LOCAL",
	OpSetLocal:     "SET_LOCAL",
	OpCall:         "CALL",
	OpReturn:       "RETURN",
	OpReturnNil:    "RETURN_NIL",
	OpGetMember:    "GET_MEMBER",
	OpImport:       "IMPORT",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

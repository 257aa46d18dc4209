package ir

type (
	Op uint8

	// ID identifies an instruction inside its List.
	// It stays valid until the instruction is removed and is never reused.
	ID int

	Insn interface {
		Opcode() Op
	}

	// Plain is an instruction without operands.
	Plain struct {
		Op Op
	}

	// Push is BIPUSH, SIPUSH or NEWARRAY with its immediate operand.
	Push struct {
		Op    Op
		Value int32
	}

	// Ldc pushes a constant: int32, int64, float32, float64, string or tp.Type (class literal).
	Ldc struct {
		Value any
	}

	Var struct {
		Op   Op
		Slot int
	}

	Iinc struct {
		Slot  int
		Delta int32
	}

	Jump struct {
		Op     Op
		Target ID
	}

	// Switch is TABLESWITCH (Keys are Min, Min+1, ...) or LOOKUPSWITCH.
	Switch struct {
		Op      Op
		Keys    []int32
		Default ID
		Targets []ID
	}

	Field struct {
		Op    Op
		Owner string
		Name  string
		Desc  string
	}

	Call struct {
		Op    Op
		Owner string
		Name  string
		Desc  string
		Itf   bool
	}

	TypeInsn struct {
		Op   Op
		Type string
	}

	MultiArray struct {
		Desc string
		Dims int
	}

	// Label is a pseudo instruction marking a branch target.
	Label struct{}
)

const Nil ID = -1

const (
	NOP Op = iota
	ACONST_NULL
	ICONST_M1
	ICONST_0
	ICONST_1
	ICONST_2
	ICONST_3
	ICONST_4
	ICONST_5
	LCONST_0
	LCONST_1
	FCONST_0
	FCONST_1
	FCONST_2
	DCONST_0
	DCONST_1
	BIPUSH
	SIPUSH
	LDC
)

const (
	ILOAD Op = 21 + iota
	LLOAD
	FLOAD
	DLOAD
	ALOAD
)

const (
	IALOAD Op = 46 + iota
	LALOAD
	FALOAD
	DALOAD
	AALOAD
	BALOAD
	CALOAD
	SALOAD
	ISTORE
	LSTORE
	FSTORE
	DSTORE
	ASTORE
)

const (
	IASTORE Op = 79 + iota
	LASTORE
	FASTORE
	DASTORE
	AASTORE
	BASTORE
	CASTORE
	SASTORE
	POP
	POP2
	DUP
	DUP_X1
	DUP_X2
	DUP2
	DUP2_X1
	DUP2_X2
	SWAP
	IADD
	LADD
	FADD
	DADD
	ISUB
	LSUB
	FSUB
	DSUB
	IMUL
	LMUL
	FMUL
	DMUL
	IDIV
	LDIV
	FDIV
	DDIV
	IREM
	LREM
	FREM
	DREM
	INEG
	LNEG
	FNEG
	DNEG
	ISHL
	LSHL
	ISHR
	LSHR
	IUSHR
	LUSHR
	IAND
	LAND
	IOR
	LOR
	IXOR
	LXOR
	IINC
	I2L
	I2F
	I2D
	L2I
	L2F
	L2D
	F2I
	F2L
	F2D
	D2I
	D2L
	D2F
	I2B
	I2C
	I2S
	LCMP
	FCMPL
	FCMPG
	DCMPL
	DCMPG
	IFEQ
	IFNE
	IFLT
	IFGE
	IFGT
	IFLE
	IF_ICMPEQ
	IF_ICMPNE
	IF_ICMPLT
	IF_ICMPGE
	IF_ICMPGT
	IF_ICMPLE
	IF_ACMPEQ
	IF_ACMPNE
	GOTO
	JSR
	RET
	TABLESWITCH
	LOOKUPSWITCH
	IRETURN
	LRETURN
	FRETURN
	DRETURN
	ARETURN
	RETURN
	GETSTATIC
	PUTSTATIC
	GETFIELD
	PUTFIELD
	INVOKEVIRTUAL
	INVOKESPECIAL
	INVOKESTATIC
	INVOKEINTERFACE
	INVOKEDYNAMIC
	NEW
	NEWARRAY
	ANEWARRAY
	ARRAYLENGTH
	ATHROW
	CHECKCAST
	INSTANCEOF
	MONITORENTER
	MONITOREXIT
)

const (
	MULTIANEWARRAY Op = 197 + iota
	IFNULL
	IFNONNULL
)

// LABEL is the opcode of the Label pseudo instruction.
const LABEL Op = 0xff

func (x Plain) Opcode() Op      { return x.Op }
func (x Push) Opcode() Op       { return x.Op }
func (x Ldc) Opcode() Op        { return LDC }
func (x Var) Opcode() Op        { return x.Op }
func (x Iinc) Opcode() Op       { return IINC }
func (x Jump) Opcode() Op       { return x.Op }
func (x Switch) Opcode() Op     { return x.Op }
func (x Field) Opcode() Op      { return x.Op }
func (x Call) Opcode() Op       { return x.Op }
func (x TypeInsn) Opcode() Op   { return x.Op }
func (x MultiArray) Opcode() Op { return MULTIANEWARRAY }
func (x Label) Opcode() Op      { return LABEL }

// Targets returns branch targets of the instruction.
func Targets(x Insn) []ID {
	switch x := x.(type) {
	case Jump:
		return []ID{x.Target}
	case Switch:
		r := make([]ID, 0, len(x.Targets)+1)
		r = append(r, x.Default)
		r = append(r, x.Targets...)

		return r
	}

	return nil
}

// Falls reports whether execution may continue to the next instruction.
func Falls(op Op) bool {
	switch op {
	case GOTO, TABLESWITCH, LOOKUPSWITCH, ATHROW, RET,
		IRETURN, LRETURN, FRETURN, DRETURN, ARETURN, RETURN:
		return false
	}

	return true
}

func IsLoad(op Op) bool   { return op >= ILOAD && op <= ALOAD }
func IsStore(op Op) bool  { return op >= ISTORE && op <= ASTORE }
func IsReturn(op Op) bool { return op >= IRETURN && op <= RETURN }

// Key identifies a method or field: owner#name desc.
func (x Call) Key() string  { return x.Owner + "#" + x.Name + " " + x.Desc }
func (x Field) Key() string { return x.Owner + "#" + x.Name + " " + x.Desc }

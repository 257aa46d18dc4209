package ir

import (
	"strconv"

	"tlog.app/go/errors"

	"github.com/slowlang/unpack/compiler/tp"
)

var names = [256]string{
	NOP: "nop", ACONST_NULL: "aconst_null",
	ICONST_M1: "iconst_m1", ICONST_0: "iconst_0", ICONST_1: "iconst_1", ICONST_2: "iconst_2",
	ICONST_3: "iconst_3", ICONST_4: "iconst_4", ICONST_5: "iconst_5",
	LCONST_0: "lconst_0", LCONST_1: "lconst_1",
	FCONST_0: "fconst_0", FCONST_1: "fconst_1", FCONST_2: "fconst_2",
	DCONST_0: "dconst_0", DCONST_1: "dconst_1",
	BIPUSH: "bipush", SIPUSH: "sipush", LDC: "ldc",

	ILOAD: "iload", LLOAD: "lload", FLOAD: "fload", DLOAD: "dload", ALOAD: "aload",
	IALOAD: "iaload", LALOAD: "laload", FALOAD: "faload", DALOAD: "daload",
	AALOAD: "aaload", BALOAD: "baload", CALOAD: "caload", SALOAD: "saload",
	ISTORE: "istore", LSTORE: "lstore", FSTORE: "fstore", DSTORE: "dstore", ASTORE: "astore",
	IASTORE: "iastore", LASTORE: "lastore", FASTORE: "fastore", DASTORE: "dastore",
	AASTORE: "aastore", BASTORE: "bastore", CASTORE: "castore", SASTORE: "sastore",

	POP: "pop", POP2: "pop2", DUP: "dup", DUP_X1: "dup_x1", DUP_X2: "dup_x2",
	DUP2: "dup2", DUP2_X1: "dup2_x1", DUP2_X2: "dup2_x2", SWAP: "swap",

	IADD: "iadd", LADD: "ladd", FADD: "fadd", DADD: "dadd",
	ISUB: "isub", LSUB: "lsub", FSUB: "fsub", DSUB: "dsub",
	IMUL: "imul", LMUL: "lmul", FMUL: "fmul", DMUL: "dmul",
	IDIV: "idiv", LDIV: "ldiv", FDIV: "fdiv", DDIV: "ddiv",
	IREM: "irem", LREM: "lrem", FREM: "frem", DREM: "drem",
	INEG: "ineg", LNEG: "lneg", FNEG: "fneg", DNEG: "dneg",
	ISHL: "ishl", LSHL: "lshl", ISHR: "ishr", LSHR: "lshr", IUSHR: "iushr", LUSHR: "lushr",
	IAND: "iand", LAND: "land", IOR: "ior", LOR: "lor", IXOR: "ixor", LXOR: "lxor",
	IINC: "iinc",

	I2L: "i2l", I2F: "i2f", I2D: "i2d", L2I: "l2i", L2F: "l2f", L2D: "l2d",
	F2I: "f2i", F2L: "f2l", F2D: "f2d", D2I: "d2i", D2L: "d2l", D2F: "d2f",
	I2B: "i2b", I2C: "i2c", I2S: "i2s",

	LCMP: "lcmp", FCMPL: "fcmpl", FCMPG: "fcmpg", DCMPL: "dcmpl", DCMPG: "dcmpg",
	IFEQ: "ifeq", IFNE: "ifne", IFLT: "iflt", IFGE: "ifge", IFGT: "ifgt", IFLE: "ifle",
	IF_ICMPEQ: "if_icmpeq", IF_ICMPNE: "if_icmpne", IF_ICMPLT: "if_icmplt",
	IF_ICMPGE: "if_icmpge", IF_ICMPGT: "if_icmpgt", IF_ICMPLE: "if_icmple",
	IF_ACMPEQ: "if_acmpeq", IF_ACMPNE: "if_acmpne",
	GOTO: "goto", JSR: "jsr", RET: "ret",
	TABLESWITCH: "tableswitch", LOOKUPSWITCH: "lookupswitch",
	IRETURN: "ireturn", LRETURN: "lreturn", FRETURN: "freturn",
	DRETURN: "dreturn", ARETURN: "areturn", RETURN: "return",

	GETSTATIC: "getstatic", PUTSTATIC: "putstatic", GETFIELD: "getfield", PUTFIELD: "putfield",
	INVOKEVIRTUAL: "invokevirtual", INVOKESPECIAL: "invokespecial",
	INVOKESTATIC: "invokestatic", INVOKEINTERFACE: "invokeinterface",
	INVOKEDYNAMIC: "invokedynamic",

	NEW: "new", NEWARRAY: "newarray", ANEWARRAY: "anewarray", ARRAYLENGTH: "arraylength",
	ATHROW: "athrow", CHECKCAST: "checkcast", INSTANCEOF: "instanceof",
	MONITORENTER: "monitorenter", MONITOREXIT: "monitorexit",
	MULTIANEWARRAY: "multianewarray", IFNULL: "ifnull", IFNONNULL: "ifnonnull",

	LABEL: "label",
}

var byName = map[string]Op{}

func init() {
	for op, n := range names {
		if n != "" {
			byName[n] = Op(op)
		}
	}
}

func (op Op) String() string {
	if n := names[op]; n != "" {
		return n
	}

	return "op" + strconv.Itoa(int(op))
}

func (op Op) Valid() bool { return names[op] != "" }

func ParseOp(s string) (Op, bool) {
	op, ok := byName[s]
	return op, ok
}

// ConstType is the type of an Ldc constant.
func ConstType(v any) (tp.Type, bool) {
	switch v.(type) {
	case int32:
		return tp.Int, true
	case int64:
		return tp.Long, true
	case float32:
		return tp.Float, true
	case float64:
		return tp.Double, true
	case string:
		return tp.String, true
	case tp.Type:
		return tp.Class, true
	}

	return nil, false
}

// VarType is the type loaded or stored by a local variable instruction.
func VarType(op Op) tp.Type {
	switch op {
	case ILOAD, ISTORE:
		return tp.Int
	case LLOAD, LSTORE:
		return tp.Long
	case FLOAD, FSTORE:
		return tp.Float
	case DLOAD, DSTORE:
		return tp.Double
	case ALOAD, ASTORE:
		return tp.Obj
	}

	return nil
}

// Effect is the stack effect of the instruction in slot words.
func Effect(x Insn) (pop, push int, err error) {
	switch x := x.(type) {
	case Label, Iinc:
		return 0, 0, nil
	case Ldc:
		t, ok := ConstType(x.Value)
		if !ok {
			return 0, 0, errors.New("bad constant: %T", x.Value)
		}

		return 0, t.Size(), nil
	case Var:
		switch {
		case IsLoad(x.Op):
			return 0, VarType(x.Op).Size(), nil
		case IsStore(x.Op):
			return VarType(x.Op).Size(), 0, nil
		case x.Op == RET:
			return 0, 0, nil
		}
	case Push:
		if x.Op == NEWARRAY {
			return 1, 1, nil
		}

		return 0, 1, nil
	case Jump:
		switch x.Op {
		case GOTO:
			return 0, 0, nil
		case JSR:
			return 0, 1, nil
		case IF_ICMPEQ, IF_ICMPNE, IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE, IF_ACMPEQ, IF_ACMPNE:
			return 2, 0, nil
		default:
			return 1, 0, nil
		}
	case Switch:
		return 1, 0, nil
	case Field:
		t, err := tp.Parse(x.Desc)
		if err != nil {
			return 0, 0, errors.Wrap(err, "field %v", x.Key())
		}

		switch x.Op {
		case GETSTATIC:
			return 0, t.Size(), nil
		case PUTSTATIC:
			return t.Size(), 0, nil
		case GETFIELD:
			return 1, t.Size(), nil
		default:
			return 1 + t.Size(), 0, nil
		}
	case Call:
		f, err := tp.ParseFunc(x.Desc)
		if err != nil {
			return 0, 0, errors.Wrap(err, "call %v", x.Key())
		}

		pop = f.Size()
		if x.Op != INVOKESTATIC && x.Op != INVOKEDYNAMIC {
			pop++
		}

		return pop, f.Out.Size(), nil
	case TypeInsn:
		if x.Op == NEW {
			return 0, 1, nil
		}

		return 1, 1, nil
	case MultiArray:
		return x.Dims, 1, nil
	case Plain:
		return plainEffect(x.Op)
	}

	return 0, 0, errors.New("unsupported instruction: %v (%T)", x.Opcode(), x)
}

func plainEffect(op Op) (pop, push int, err error) {
	switch op {
	case NOP:
		return 0, 0, nil
	case ACONST_NULL, ICONST_M1, ICONST_0, ICONST_1, ICONST_2, ICONST_3, ICONST_4, ICONST_5,
		FCONST_0, FCONST_1, FCONST_2:
		return 0, 1, nil
	case LCONST_0, LCONST_1, DCONST_0, DCONST_1:
		return 0, 2, nil
	case IALOAD, FALOAD, AALOAD, BALOAD, CALOAD, SALOAD:
		return 2, 1, nil
	case LALOAD, DALOAD:
		return 2, 2, nil
	case IASTORE, FASTORE, AASTORE, BASTORE, CASTORE, SASTORE:
		return 3, 0, nil
	case LASTORE, DASTORE:
		return 4, 0, nil
	case POP:
		return 1, 0, nil
	case POP2:
		return 2, 0, nil
	case DUP:
		return 1, 2, nil
	case DUP_X1:
		return 2, 3, nil
	case DUP_X2:
		return 3, 4, nil
	case DUP2:
		return 2, 4, nil
	case DUP2_X1:
		return 3, 5, nil
	case DUP2_X2:
		return 4, 6, nil
	case SWAP:
		return 2, 2, nil
	case IADD, ISUB, IMUL, IDIV, IREM, ISHL, ISHR, IUSHR, IAND, IOR, IXOR,
		FADD, FSUB, FMUL, FDIV, FREM, FCMPL, FCMPG:
		return 2, 1, nil
	case LADD, LSUB, LMUL, LDIV, LREM, LAND, LOR, LXOR,
		DADD, DSUB, DMUL, DDIV, DREM:
		return 4, 2, nil
	case LSHL, LSHR, LUSHR:
		return 3, 2, nil
	case INEG, FNEG, I2F, F2I, I2B, I2C, I2S, ARRAYLENGTH:
		return 1, 1, nil
	case LNEG, DNEG, L2D, D2L:
		return 2, 2, nil
	case I2L, I2D, F2L, F2D:
		return 1, 2, nil
	case L2I, L2F, D2I, D2F:
		return 2, 1, nil
	case LCMP, DCMPL, DCMPG:
		return 4, 1, nil
	case IRETURN, FRETURN, ARETURN, ATHROW, MONITORENTER, MONITOREXIT:
		return 1, 0, nil
	case LRETURN, DRETURN:
		return 2, 0, nil
	case RETURN:
		return 0, 0, nil
	}

	return 0, 0, errors.New("unsupported plain instruction: %v", op)
}

// ArrayTypes are newarray operand codes.
var ArrayTypes = map[int32]string{
	4:  "boolean",
	5:  "char",
	6:  "float",
	7:  "double",
	8:  "byte",
	9:  "short",
	10: "int",
	11: "long",
}

func ParseArrayType(n string) (int32, bool) {
	for c, x := range ArrayTypes {
		if x == n {
			return c, true
		}
	}

	return 0, false
}

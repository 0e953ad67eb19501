package cil

// The ECMA-335 Partition III instruction set. Names follow ilasm.
var (
	Nop         = def("nop", 0x00, InlineNone, FlowNext, 0, 0)
	Break       = def("break", 0x01, InlineNone, FlowBreak, 0, 0)
	Ldarg0      = def("ldarg.0", 0x02, InlineNone, FlowNext, 0, 1)
	Ldarg1      = def("ldarg.1", 0x03, InlineNone, FlowNext, 0, 1)
	Ldarg2      = def("ldarg.2", 0x04, InlineNone, FlowNext, 0, 1)
	Ldarg3      = def("ldarg.3", 0x05, InlineNone, FlowNext, 0, 1)
	Ldloc0      = def("ldloc.0", 0x06, InlineNone, FlowNext, 0, 1)
	Ldloc1      = def("ldloc.1", 0x07, InlineNone, FlowNext, 0, 1)
	Ldloc2      = def("ldloc.2", 0x08, InlineNone, FlowNext, 0, 1)
	Ldloc3      = def("ldloc.3", 0x09, InlineNone, FlowNext, 0, 1)
	Stloc0      = def("stloc.0", 0x0A, InlineNone, FlowNext, 1, 0)
	Stloc1      = def("stloc.1", 0x0B, InlineNone, FlowNext, 1, 0)
	Stloc2      = def("stloc.2", 0x0C, InlineNone, FlowNext, 1, 0)
	Stloc3      = def("stloc.3", 0x0D, InlineNone, FlowNext, 1, 0)
	LdargS      = def("ldarg.s", 0x0E, ShortInlineVar, FlowNext, 0, 1)
	LdargaS     = def("ldarga.s", 0x0F, ShortInlineVar, FlowNext, 0, 1)
	StargS      = def("starg.s", 0x10, ShortInlineVar, FlowNext, 1, 0)
	LdlocS      = def("ldloc.s", 0x11, ShortInlineVar, FlowNext, 0, 1)
	LdlocaS     = def("ldloca.s", 0x12, ShortInlineVar, FlowNext, 0, 1)
	StlocS      = def("stloc.s", 0x13, ShortInlineVar, FlowNext, 1, 0)
	Ldnull      = def("ldnull", 0x14, InlineNone, FlowNext, 0, 1)
	LdcI4M1     = def("ldc.i4.m1", 0x15, InlineNone, FlowNext, 0, 1)
	LdcI40      = def("ldc.i4.0", 0x16, InlineNone, FlowNext, 0, 1)
	LdcI41      = def("ldc.i4.1", 0x17, InlineNone, FlowNext, 0, 1)
	LdcI42      = def("ldc.i4.2", 0x18, InlineNone, FlowNext, 0, 1)
	LdcI43      = def("ldc.i4.3", 0x19, InlineNone, FlowNext, 0, 1)
	LdcI44      = def("ldc.i4.4", 0x1A, InlineNone, FlowNext, 0, 1)
	LdcI45      = def("ldc.i4.5", 0x1B, InlineNone, FlowNext, 0, 1)
	LdcI46      = def("ldc.i4.6", 0x1C, InlineNone, FlowNext, 0, 1)
	LdcI47      = def("ldc.i4.7", 0x1D, InlineNone, FlowNext, 0, 1)
	LdcI48      = def("ldc.i4.8", 0x1E, InlineNone, FlowNext, 0, 1)
	LdcI4S      = def("ldc.i4.s", 0x1F, ShortInlineI, FlowNext, 0, 1)
	LdcI4       = def("ldc.i4", 0x20, InlineI, FlowNext, 0, 1)
	LdcI8       = def("ldc.i8", 0x21, InlineI8, FlowNext, 0, 1)
	LdcR4       = def("ldc.r4", 0x22, ShortInlineR, FlowNext, 0, 1)
	LdcR8       = def("ldc.r8", 0x23, InlineR, FlowNext, 0, 1)
	Dup         = def("dup", 0x25, InlineNone, FlowNext, 1, 2)
	Pop         = def("pop", 0x26, InlineNone, FlowNext, 1, 0)
	Jmp         = def("jmp", 0x27, InlineMethod, FlowCall, 0, 0)
	Call        = def("call", 0x28, InlineMethod, FlowCall, variable, variable)
	Calli       = def("calli", 0x29, InlineSig, FlowCall, variable, variable)
	Ret         = def("ret", 0x2A, InlineNone, FlowReturn, variable, 0)
	BrS         = def("br.s", 0x2B, ShortInlineBrTarget, FlowBranch, 0, 0)
	BrfalseS    = def("brfalse.s", 0x2C, ShortInlineBrTarget, FlowCondBranch, 1, 0)
	BrtrueS     = def("brtrue.s", 0x2D, ShortInlineBrTarget, FlowCondBranch, 1, 0)
	BeqS        = def("beq.s", 0x2E, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BgeS        = def("bge.s", 0x2F, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BgtS        = def("bgt.s", 0x30, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BleS        = def("ble.s", 0x31, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BltS        = def("blt.s", 0x32, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BneUnS      = def("bne.un.s", 0x33, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BgeUnS      = def("bge.un.s", 0x34, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BgtUnS      = def("bgt.un.s", 0x35, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BleUnS      = def("ble.un.s", 0x36, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	BltUnS      = def("blt.un.s", 0x37, ShortInlineBrTarget, FlowCondBranch, 2, 0)
	Br          = def("br", 0x38, InlineBrTarget, FlowBranch, 0, 0)
	Brfalse     = def("brfalse", 0x39, InlineBrTarget, FlowCondBranch, 1, 0)
	Brtrue      = def("brtrue", 0x3A, InlineBrTarget, FlowCondBranch, 1, 0)
	Beq         = def("beq", 0x3B, InlineBrTarget, FlowCondBranch, 2, 0)
	Bge         = def("bge", 0x3C, InlineBrTarget, FlowCondBranch, 2, 0)
	Bgt         = def("bgt", 0x3D, InlineBrTarget, FlowCondBranch, 2, 0)
	Ble         = def("ble", 0x3E, InlineBrTarget, FlowCondBranch, 2, 0)
	Blt         = def("blt", 0x3F, InlineBrTarget, FlowCondBranch, 2, 0)
	BneUn       = def("bne.un", 0x40, InlineBrTarget, FlowCondBranch, 2, 0)
	BgeUn       = def("bge.un", 0x41, InlineBrTarget, FlowCondBranch, 2, 0)
	BgtUn       = def("bgt.un", 0x42, InlineBrTarget, FlowCondBranch, 2, 0)
	BleUn       = def("ble.un", 0x43, InlineBrTarget, FlowCondBranch, 2, 0)
	BltUn       = def("blt.un", 0x44, InlineBrTarget, FlowCondBranch, 2, 0)
	Switch      = def("switch", 0x45, InlineSwitch, FlowCondBranch, 1, 0)
	LdindI1     = def("ldind.i1", 0x46, InlineNone, FlowNext, 1, 1)
	LdindU1     = def("ldind.u1", 0x47, InlineNone, FlowNext, 1, 1)
	LdindI2     = def("ldind.i2", 0x48, InlineNone, FlowNext, 1, 1)
	LdindU2     = def("ldind.u2", 0x49, InlineNone, FlowNext, 1, 1)
	LdindI4     = def("ldind.i4", 0x4A, InlineNone, FlowNext, 1, 1)
	LdindU4     = def("ldind.u4", 0x4B, InlineNone, FlowNext, 1, 1)
	LdindI8     = def("ldind.i8", 0x4C, InlineNone, FlowNext, 1, 1)
	LdindI      = def("ldind.i", 0x4D, InlineNone, FlowNext, 1, 1)
	LdindR4     = def("ldind.r4", 0x4E, InlineNone, FlowNext, 1, 1)
	LdindR8     = def("ldind.r8", 0x4F, InlineNone, FlowNext, 1, 1)
	LdindRef    = def("ldind.ref", 0x50, InlineNone, FlowNext, 1, 1)
	StindRef    = def("stind.ref", 0x51, InlineNone, FlowNext, 2, 0)
	StindI1     = def("stind.i1", 0x52, InlineNone, FlowNext, 2, 0)
	StindI2     = def("stind.i2", 0x53, InlineNone, FlowNext, 2, 0)
	StindI4     = def("stind.i4", 0x54, InlineNone, FlowNext, 2, 0)
	StindI8     = def("stind.i8", 0x55, InlineNone, FlowNext, 2, 0)
	StindR4     = def("stind.r4", 0x56, InlineNone, FlowNext, 2, 0)
	StindR8     = def("stind.r8", 0x57, InlineNone, FlowNext, 2, 0)
	Add         = def("add", 0x58, InlineNone, FlowNext, 2, 1)
	Sub         = def("sub", 0x59, InlineNone, FlowNext, 2, 1)
	Mul         = def("mul", 0x5A, InlineNone, FlowNext, 2, 1)
	Div         = def("div", 0x5B, InlineNone, FlowNext, 2, 1)
	DivUn       = def("div.un", 0x5C, InlineNone, FlowNext, 2, 1)
	Rem         = def("rem", 0x5D, InlineNone, FlowNext, 2, 1)
	RemUn       = def("rem.un", 0x5E, InlineNone, FlowNext, 2, 1)
	And         = def("and", 0x5F, InlineNone, FlowNext, 2, 1)
	Or          = def("or", 0x60, InlineNone, FlowNext, 2, 1)
	Xor         = def("xor", 0x61, InlineNone, FlowNext, 2, 1)
	Shl         = def("shl", 0x62, InlineNone, FlowNext, 2, 1)
	Shr         = def("shr", 0x63, InlineNone, FlowNext, 2, 1)
	ShrUn       = def("shr.un", 0x64, InlineNone, FlowNext, 2, 1)
	Neg         = def("neg", 0x65, InlineNone, FlowNext, 1, 1)
	Not         = def("not", 0x66, InlineNone, FlowNext, 1, 1)
	ConvI1      = def("conv.i1", 0x67, InlineNone, FlowNext, 1, 1)
	ConvI2      = def("conv.i2", 0x68, InlineNone, FlowNext, 1, 1)
	ConvI4      = def("conv.i4", 0x69, InlineNone, FlowNext, 1, 1)
	ConvI8      = def("conv.i8", 0x6A, InlineNone, FlowNext, 1, 1)
	ConvR4      = def("conv.r4", 0x6B, InlineNone, FlowNext, 1, 1)
	ConvR8      = def("conv.r8", 0x6C, InlineNone, FlowNext, 1, 1)
	ConvU4      = def("conv.u4", 0x6D, InlineNone, FlowNext, 1, 1)
	ConvU8      = def("conv.u8", 0x6E, InlineNone, FlowNext, 1, 1)
	Callvirt    = def("callvirt", 0x6F, InlineMethod, FlowCall, variable, variable)
	Cpobj       = def("cpobj", 0x70, InlineType, FlowNext, 2, 0)
	Ldobj       = def("ldobj", 0x71, InlineType, FlowNext, 1, 1)
	Ldstr       = def("ldstr", 0x72, InlineString, FlowNext, 0, 1)
	Newobj      = def("newobj", 0x73, InlineMethod, FlowCall, variable, 1)
	Castclass   = def("castclass", 0x74, InlineType, FlowNext, 1, 1)
	Isinst      = def("isinst", 0x75, InlineType, FlowNext, 1, 1)
	ConvRUn     = def("conv.r.un", 0x76, InlineNone, FlowNext, 1, 1)
	Unbox       = def("unbox", 0x79, InlineType, FlowNext, 1, 1)
	Throw       = def("throw", 0x7A, InlineNone, FlowThrow, 1, 0)
	Ldfld       = def("ldfld", 0x7B, InlineField, FlowNext, 1, 1)
	Ldflda      = def("ldflda", 0x7C, InlineField, FlowNext, 1, 1)
	Stfld       = def("stfld", 0x7D, InlineField, FlowNext, 2, 0)
	Ldsfld      = def("ldsfld", 0x7E, InlineField, FlowNext, 0, 1)
	Ldsflda     = def("ldsflda", 0x7F, InlineField, FlowNext, 0, 1)
	Stsfld      = def("stsfld", 0x80, InlineField, FlowNext, 1, 0)
	Stobj       = def("stobj", 0x81, InlineType, FlowNext, 2, 0)
	ConvOvfI1Un = def("conv.ovf.i1.un", 0x82, InlineNone, FlowNext, 1, 1)
	ConvOvfI2Un = def("conv.ovf.i2.un", 0x83, InlineNone, FlowNext, 1, 1)
	ConvOvfI4Un = def("conv.ovf.i4.un", 0x84, InlineNone, FlowNext, 1, 1)
	ConvOvfI8Un = def("conv.ovf.i8.un", 0x85, InlineNone, FlowNext, 1, 1)
	ConvOvfU1Un = def("conv.ovf.u1.un", 0x86, InlineNone, FlowNext, 1, 1)
	ConvOvfU2Un = def("conv.ovf.u2.un", 0x87, InlineNone, FlowNext, 1, 1)
	ConvOvfU4Un = def("conv.ovf.u4.un", 0x88, InlineNone, FlowNext, 1, 1)
	ConvOvfU8Un = def("conv.ovf.u8.un", 0x89, InlineNone, FlowNext, 1, 1)
	ConvOvfIUn  = def("conv.ovf.i.un", 0x8A, InlineNone, FlowNext, 1, 1)
	ConvOvfUUn  = def("conv.ovf.u.un", 0x8B, InlineNone, FlowNext, 1, 1)
	Box         = def("box", 0x8C, InlineType, FlowNext, 1, 1)
	Newarr      = def("newarr", 0x8D, InlineType, FlowNext, 1, 1)
	Ldlen       = def("ldlen", 0x8E, InlineNone, FlowNext, 1, 1)
	Ldelema     = def("ldelema", 0x8F, InlineType, FlowNext, 2, 1)
	LdelemI1    = def("ldelem.i1", 0x90, InlineNone, FlowNext, 2, 1)
	LdelemU1    = def("ldelem.u1", 0x91, InlineNone, FlowNext, 2, 1)
	LdelemI2    = def("ldelem.i2", 0x92, InlineNone, FlowNext, 2, 1)
	LdelemU2    = def("ldelem.u2", 0x93, InlineNone, FlowNext, 2, 1)
	LdelemI4    = def("ldelem.i4", 0x94, InlineNone, FlowNext, 2, 1)
	LdelemU4    = def("ldelem.u4", 0x95, InlineNone, FlowNext, 2, 1)
	LdelemI8    = def("ldelem.i8", 0x96, InlineNone, FlowNext, 2, 1)
	LdelemI     = def("ldelem.i", 0x97, InlineNone, FlowNext, 2, 1)
	LdelemR4    = def("ldelem.r4", 0x98, InlineNone, FlowNext, 2, 1)
	LdelemR8    = def("ldelem.r8", 0x99, InlineNone, FlowNext, 2, 1)
	LdelemRef   = def("ldelem.ref", 0x9A, InlineNone, FlowNext, 2, 1)
	StelemI     = def("stelem.i", 0x9B, InlineNone, FlowNext, 3, 0)
	StelemI1    = def("stelem.i1", 0x9C, InlineNone, FlowNext, 3, 0)
	StelemI2    = def("stelem.i2", 0x9D, InlineNone, FlowNext, 3, 0)
	StelemI4    = def("stelem.i4", 0x9E, InlineNone, FlowNext, 3, 0)
	StelemI8    = def("stelem.i8", 0x9F, InlineNone, FlowNext, 3, 0)
	StelemR4    = def("stelem.r4", 0xA0, InlineNone, FlowNext, 3, 0)
	StelemR8    = def("stelem.r8", 0xA1, InlineNone, FlowNext, 3, 0)
	StelemRef   = def("stelem.ref", 0xA2, InlineNone, FlowNext, 3, 0)
	Ldelem      = def("ldelem", 0xA3, InlineType, FlowNext, 2, 1)
	Stelem      = def("stelem", 0xA4, InlineType, FlowNext, 3, 0)
	UnboxAny    = def("unbox.any", 0xA5, InlineType, FlowNext, 1, 1)
	ConvOvfI1   = def("conv.ovf.i1", 0xB3, InlineNone, FlowNext, 1, 1)
	ConvOvfU1   = def("conv.ovf.u1", 0xB4, InlineNone, FlowNext, 1, 1)
	ConvOvfI2   = def("conv.ovf.i2", 0xB5, InlineNone, FlowNext, 1, 1)
	ConvOvfU2   = def("conv.ovf.u2", 0xB6, InlineNone, FlowNext, 1, 1)
	ConvOvfI4   = def("conv.ovf.i4", 0xB7, InlineNone, FlowNext, 1, 1)
	ConvOvfU4   = def("conv.ovf.u4", 0xB8, InlineNone, FlowNext, 1, 1)
	ConvOvfI8   = def("conv.ovf.i8", 0xB9, InlineNone, FlowNext, 1, 1)
	ConvOvfU8   = def("conv.ovf.u8", 0xBA, InlineNone, FlowNext, 1, 1)
	Refanyval   = def("refanyval", 0xC2, InlineType, FlowNext, 1, 1)
	Ckfinite    = def("ckfinite", 0xC3, InlineNone, FlowNext, 1, 1)
	Mkrefany    = def("mkrefany", 0xC6, InlineType, FlowNext, 1, 1)
	Ldtoken     = def("ldtoken", 0xD0, InlineTok, FlowNext, 0, 1)
	ConvU2      = def("conv.u2", 0xD1, InlineNone, FlowNext, 1, 1)
	ConvU1      = def("conv.u1", 0xD2, InlineNone, FlowNext, 1, 1)
	ConvI       = def("conv.i", 0xD3, InlineNone, FlowNext, 1, 1)
	ConvOvfI    = def("conv.ovf.i", 0xD4, InlineNone, FlowNext, 1, 1)
	ConvOvfU    = def("conv.ovf.u", 0xD5, InlineNone, FlowNext, 1, 1)
	AddOvf      = def("add.ovf", 0xD6, InlineNone, FlowNext, 2, 1)
	AddOvfUn    = def("add.ovf.un", 0xD7, InlineNone, FlowNext, 2, 1)
	MulOvf      = def("mul.ovf", 0xD8, InlineNone, FlowNext, 2, 1)
	MulOvfUn    = def("mul.ovf.un", 0xD9, InlineNone, FlowNext, 2, 1)
	SubOvf      = def("sub.ovf", 0xDA, InlineNone, FlowNext, 2, 1)
	SubOvfUn    = def("sub.ovf.un", 0xDB, InlineNone, FlowNext, 2, 1)
	Endfinally  = def("endfinally", 0xDC, InlineNone, FlowReturn, 0, 0)
	Leave       = def("leave", 0xDD, InlineBrTarget, FlowBranch, 0, 0)
	LeaveS      = def("leave.s", 0xDE, ShortInlineBrTarget, FlowBranch, 0, 0)
	StindI      = def("stind.i", 0xDF, InlineNone, FlowNext, 2, 0)
	ConvU       = def("conv.u", 0xE0, InlineNone, FlowNext, 1, 1)
	Arglist     = def("arglist", 0xFE00, InlineNone, FlowNext, 0, 1)
	Ceq         = def("ceq", 0xFE01, InlineNone, FlowNext, 2, 1)
	Cgt         = def("cgt", 0xFE02, InlineNone, FlowNext, 2, 1)
	CgtUn       = def("cgt.un", 0xFE03, InlineNone, FlowNext, 2, 1)
	Clt         = def("clt", 0xFE04, InlineNone, FlowNext, 2, 1)
	CltUn       = def("clt.un", 0xFE05, InlineNone, FlowNext, 2, 1)
	Ldftn       = def("ldftn", 0xFE06, InlineMethod, FlowNext, 0, 1)
	Ldvirtftn   = def("ldvirtftn", 0xFE07, InlineMethod, FlowNext, 1, 1)
	Ldarg       = def("ldarg", 0xFE09, InlineVar, FlowNext, 0, 1)
	Ldarga      = def("ldarga", 0xFE0A, InlineVar, FlowNext, 0, 1)
	Starg       = def("starg", 0xFE0B, InlineVar, FlowNext, 1, 0)
	Ldloc       = def("ldloc", 0xFE0C, InlineVar, FlowNext, 0, 1)
	Ldloca      = def("ldloca", 0xFE0D, InlineVar, FlowNext, 0, 1)
	Stloc       = def("stloc", 0xFE0E, InlineVar, FlowNext, 1, 0)
	Localloc    = def("localloc", 0xFE0F, InlineNone, FlowNext, 1, 1)
	Endfilter   = def("endfilter", 0xFE11, InlineNone, FlowReturn, 1, 0)
	Unaligned   = def("unaligned.", 0xFE12, ShortInlineI, FlowMeta, 0, 0)
	Volatile    = def("volatile.", 0xFE13, InlineNone, FlowMeta, 0, 0)
	Tail        = def("tail.", 0xFE14, InlineNone, FlowMeta, 0, 0)
	Initobj     = def("initobj", 0xFE15, InlineType, FlowNext, 1, 0)
	Constrained = def("constrained.", 0xFE16, InlineType, FlowMeta, 0, 0)
	Cpblk       = def("cpblk", 0xFE17, InlineNone, FlowNext, 3, 0)
	Initblk     = def("initblk", 0xFE18, InlineNone, FlowNext, 3, 0)
	No          = def("no.", 0xFE19, ShortInlineI, FlowMeta, 0, 0)
	Rethrow     = def("rethrow", 0xFE1A, InlineNone, FlowThrow, 0, 0)
	Sizeof      = def("sizeof", 0xFE1C, InlineType, FlowNext, 0, 1)
	Refanytype  = def("refanytype", 0xFE1D, InlineNone, FlowNext, 1, 1)
	Readonly    = def("readonly.", 0xFE1E, InlineNone, FlowMeta, 0, 0)
)

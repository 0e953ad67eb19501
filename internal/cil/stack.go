package cil

// ComputeMaxStack estimates the evaluation stack depth of body with a single
// linear pass. Depths recorded at branch targets and handler entries carry
// over to those instructions, so the result is an upper bound for verifiable
// code.
func ComputeMaxStack(body *Body, returnsValue bool) int {
	known := make(map[*Instruction]int)
	record := func(at *Instruction, depth int) {
		if at == nil {
			return
		}
		if d, ok := known[at]; !ok || depth > d {
			known[at] = depth
		}
	}
	for _, h := range body.Handlers {
		switch h.Kind {
		case HandlerCatch:
			record(h.HandlerStart, 1)
		case HandlerFilter:
			record(h.HandlerStart, 1)
			record(h.FilterStart, 1)
		}
	}

	depth, highest := 0, 0
	for _, ins := range body.Instructions {
		if d, ok := known[ins]; ok && d > depth {
			depth = d
		}
		highest = max(highest, depth)
		pop, push := stackEffect(ins, returnsValue)
		depth -= pop
		if depth < 0 {
			depth = 0
		}
		depth += push
		if depth > highest {
			highest = depth
		}

		switch op := ins.Operand.(type) {
		case BranchOperand:
			if ins.OpCode.Value == Leave.Value || ins.OpCode.Value == LeaveS.Value {
				record(op.Target, 0)
			} else {
				record(op.Target, depth)
			}
		case SwitchOperand:
			for _, t := range op.Targets {
				record(t, depth)
			}
		}
		switch ins.OpCode.Flow {
		case FlowBranch, FlowReturn, FlowThrow:
			depth = 0
		}
	}
	return highest
}

func stackEffect(ins *Instruction, returnsValue bool) (pop, push int) {
	op := ins.OpCode
	pop, push = int(op.Pop), int(op.Push)
	if pop != variable && push != variable {
		return pop, push
	}
	switch op.Value {
	case Ret.Value:
		if returnsValue {
			return 1, 0
		}
		return 0, 0
	case Calli.Value:
		sig, _ := ins.Operand.(SigOperand)
		return sig.Arguments + 1, boolInt(sig.Returns)
	}
	m, ok := ins.Operand.(MethodOperand)
	if !ok || m.Method == nil {
		return 0, max(push, 0)
	}
	if op.Value == Newobj.Value {
		// The constructor's this is created by newobj, not popped.
		return max(m.Method.ArgumentCount()-1, 0), 1
	}
	return m.Method.ArgumentCount(), boolInt(m.Method.ReturnsValue())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

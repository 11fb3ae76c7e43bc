package core

import (
	"math"
	"testing"
)

func TestVMArithmeticOps(t *testing.T) {
	vm := NewVM(nil, nil)
	p := NewProgram()
	p.Emit(Instruction{Op: MOV, Dst: 0, Src1: 0xff, Imm: 7})
	p.Emit(Instruction{Op: MOV, Dst: 1, Src1: 0xff, Imm: 3})
	p.Emit(Instruction{Op: ADD, Dst: 2, Src1: 0, Src2: 1})
	p.Emit(Instruction{Op: SUB, Dst: 3, Src1: 0, Src2: 1})
	p.Emit(Instruction{Op: COLLAPSE})

	var regs Registers
	res := vm.Step(&regs, p, 100)
	if !res.Collapsed {
		t.Fatalf("expected the program to collapse")
	}
	if regs[2] != 10 {
		t.Fatalf("expected R2=10, got %d", regs[2])
	}
	if regs[3] != 4 {
		t.Fatalf("expected R3=4, got %d", regs[3])
	}
}

func TestVMBranchlessJz(t *testing.T) {
	vm := NewVM(nil, nil)
	p := NewProgram()
	p.Emit(Instruction{Op: MOV, Dst: 0, Src1: 0xff, Imm: 0})
	p.Emit(Instruction{Op: JZ, Src1: 0, Imm: 3})  // jump to offset 3 if R0==0
	p.Emit(Instruction{Op: MOV, Dst: 1, Src1: 0xff, Imm: 111}) // skipped
	p.Emit(Instruction{Op: MOV, Dst: 1, Src1: 0xff, Imm: 222}) // target
	p.Emit(Instruction{Op: COLLAPSE})

	var regs Registers
	vm.Step(&regs, p, 100)
	if regs[1] != 222 {
		t.Fatalf("expected JZ to take the branch and set R1=222, got %d", regs[1])
	}
}

func TestVMTickBudgetStopsMidProgram(t *testing.T) {
	vm := NewVM(nil, nil)
	p := NewProgram()
	for i := 0; i < 10; i++ {
		p.Emit(Instruction{Op: NOOP})
	}
	p.Emit(Instruction{Op: COLLAPSE})

	var regs Registers
	res := vm.Step(&regs, p, 3)
	if res.Collapsed {
		t.Fatalf("expected the step to yield on budget exhaustion, not collapse")
	}
	if res.TicksUsed < 3 {
		t.Fatalf("expected at least 3 ticks charged, got %d", res.TicksUsed)
	}
	if int(regs[PCReg]) >= len(p.Code)-1 {
		t.Fatalf("expected the program counter to stop short of COLLAPSE, got pc=%d", regs[PCReg])
	}
}

func TestVMQueryMacroOps(t *testing.T) {
	store := NewTripleStore(16)
	const pred = EntityID(5)
	if err := store.AddTriple(Triple{S: 1, P: pred, O: 10}); err != nil {
		t.Fatalf("AddTriple: %v", err)
	}
	if err := store.AddTriple(Triple{S: 2, P: pred, O: 20}); err != nil {
		t.Fatalf("AddTriple: %v", err)
	}

	vm := NewVM(store, nil)

	t.Run("JOIN_HASH", func(t *testing.T) {
		p := NewProgram()
		p.Emit(Instruction{Op: MOV, Dst: 0, Src1: 0xff, Imm: uint64(pred)})
		p.Emit(Instruction{Op: MOV, Dst: 1, Src1: 0xff, Imm: uint64(pred)})
		p.Emit(Instruction{Op: JOIN_HASH, Dst: 2, Src1: 0, Src2: 1})
		p.Emit(Instruction{Op: COLLAPSE})

		var regs Registers
		vm.Step(&regs, p, 100)
		if regs[2] != 2 {
			t.Fatalf("expected JOIN_HASH to find 2 matching rows against itself, got R2=%d", regs[2])
		}
	})

	t.Run("FILTER_GT", func(t *testing.T) {
		p := NewProgram()
		p.Emit(Instruction{Op: MOV, Dst: 0, Src1: 0xff, Imm: uint64(pred)})
		p.Emit(Instruction{Op: FILTER_GT, Dst: 1, Src1: 0, Imm: uint64(math.Float32bits(15))})
		p.Emit(Instruction{Op: COLLAPSE})

		var regs Registers
		vm.Step(&regs, p, 100)
		if regs[1] != 1 {
			t.Fatalf("expected FILTER_GT(>15) to keep 1 of 2 rows, got R1=%d", regs[1])
		}
	})

	t.Run("PROJECT", func(t *testing.T) {
		p := NewProgram()
		p.Emit(Instruction{Op: MOV, Dst: 0, Src1: 0xff, Imm: uint64(pred)})
		p.Emit(Instruction{Op: PROJECT, Dst: 1, Src1: 0, Imm: 1})
		p.Emit(Instruction{Op: COLLAPSE})

		var regs Registers
		vm.Step(&regs, p, 100)
		if regs[1] != 2 {
			t.Fatalf("expected PROJECT to gather 2 rows, got R1=%d", regs[1])
		}
	})
}

func TestVMBitTestMacroOp(t *testing.T) {
	reg := NewRegistry(8)
	tel := NewTelemetry(nil, nil)
	reasoner := NewReasoner(reg, tel, 8, ModeFull)
	_ = reasoner.InsertAxiom(Axiom{Subject: 1, Object: 2, Kind: SubClassOf})
	reasoner.Materialize(nil)

	vm := NewVM(nil, reasoner)
	p := NewProgram()
	p.Emit(Instruction{Op: MOV, Dst: 0, Src1: 0xff, Imm: 1})
	p.Emit(Instruction{Op: MOV, Dst: 1, Src1: 0xff, Imm: 2})
	p.Emit(Instruction{Op: BIT_TEST, Dst: 2, Src1: 0, Src2: 1})
	p.Emit(Instruction{Op: COLLAPSE})

	var regs Registers
	vm.Step(&regs, p, 100)
	if regs[2] != 1 {
		t.Fatalf("expected BIT_TEST to find 1 is a subclass of 2, got R2=%d", regs[2])
	}
}

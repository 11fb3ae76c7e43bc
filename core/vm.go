package core

import "math"

// StepResult reports the outcome of running a fiber's program until it
// yields (spec.md §4.2, §5: "Suspension points... end of an 8-tick step,
// explicit COLLAPSE, mailbox-empty poll, or timeout trap").
type StepResult struct {
	Collapsed    bool
	TicksUsed    uint8
	OverBudget   bool // exceeded the declared per-step tick budget (reported, not fatal)
	NextPC       int
	DequeueCount int // macro-op results written to a register, for the scheduler's bookkeeping
}

// Registers is the fixed 8 x u64 register file (spec.md §4.2); R7 (PCReg)
// holds the program counter.
type Registers [RegCount]uint64

// VM executes one compiled Program against a shared set of dependencies
// (triple store, reasoner) on behalf of a fiber. A VM holds no per-fiber
// state itself — registers and PC live in the caller's Registers value —
// so one VM can be reused to step every fiber in a scheduler (spec.md
// §4.2, "no stack", "spills are forbidden").
//
// Grounded on core/opcode_dispatcher.go: a direct-indexed, function-
// pointer dispatch table sized to the opcode space, charging each
// instruction's declared cost before running its handler (spec.md §4.2,
// "Direct-indexed jump table (no switch with bounds branch on the hot
// path)").
type VM struct {
	store    *TripleStore
	reasoner *Reasoner
	dispatch [opcodeCount]func(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult
}

// NewVM builds a VM wired to store and reasoner (either may be nil for
// programs that never emit SCAN_*/BIT_TEST macro ops).
func NewVM(store *TripleStore, reasoner *Reasoner) *VM {
	vm := &VM{store: store, reasoner: reasoner}
	vm.dispatch[NOOP] = opNoop
	vm.dispatch[ADD] = opAdd
	vm.dispatch[SUB] = opSub
	vm.dispatch[AND] = opAnd
	vm.dispatch[OR] = opOr
	vm.dispatch[XOR] = opXor
	vm.dispatch[MOV] = opMov
	vm.dispatch[ENTANGLE] = opEntangle
	vm.dispatch[JZ] = opJz
	vm.dispatch[JNZ] = opJnz
	vm.dispatch[COLLAPSE] = opCollapse
	vm.dispatch[LOAD_ID] = opLoadID
	vm.dispatch[BIT_TEST] = opBitTest
	vm.dispatch[SCAN_TYPE] = opScanType
	vm.dispatch[SCAN_PRED] = opScanPred
	vm.dispatch[JOIN_HASH] = opJoinHash
	vm.dispatch[FILTER_GT] = opFilterGT
	vm.dispatch[PROJECT] = opProject
	return vm
}

// Step executes p starting at regs[PCReg] until COLLAPSE or the tick
// budget (spec.md §4.2, §5) is consumed. The caller supplies the per-step
// budget (default TickBudget); Step never blocks.
func (vm *VM) Step(regs *Registers, p *Program, budget uint8) StepResult {
	var used uint8
	pc := int(regs[PCReg])
	for {
		if pc < 0 || pc >= len(p.Code) {
			return StepResult{Collapsed: true, TicksUsed: used, NextPC: pc}
		}
		ins := p.Code[pc]
		cost := TickCost[ins.Op]
		over := used+cost > budget
		res := vm.dispatch[ins.Op](vm, regs, ins, p)
		used += cost
		if res.Collapsed {
			regs[PCReg] = uint64(pc + 1)
			return StepResult{Collapsed: true, TicksUsed: used, OverBudget: over, NextPC: pc + 1, DequeueCount: res.DequeueCount}
		}
		pc = int(regs[PCReg])
		if over || used >= budget {
			return StepResult{TicksUsed: used, OverBudget: over, NextPC: pc}
		}
	}
}

func advancePC(regs *Registers, pc int) { regs[PCReg] = uint64(pc + 1) }

func opNoop(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	advancePC(regs, int(regs[PCReg]))
	return StepResult{}
}

func opAdd(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	regs[ins.Dst] = regs[ins.Src1] + regs[ins.Src2]
	advancePC(regs, pc)
	return StepResult{}
}

func opSub(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	regs[ins.Dst] = regs[ins.Src1] - regs[ins.Src2]
	advancePC(regs, pc)
	return StepResult{}
}

func opAnd(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	regs[ins.Dst] = regs[ins.Src1] & regs[ins.Src2]
	advancePC(regs, pc)
	return StepResult{}
}

func opOr(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	regs[ins.Dst] = regs[ins.Src1] | regs[ins.Src2]
	advancePC(regs, pc)
	return StepResult{}
}

func opXor(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	regs[ins.Dst] = regs[ins.Src1] ^ regs[ins.Src2]
	advancePC(regs, pc)
	return StepResult{}
}

func opMov(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	if ins.Src1 == 0xff {
		regs[ins.Dst] = ins.Imm
	} else {
		regs[ins.Dst] = regs[ins.Src1]
	}
	advancePC(regs, pc)
	return StepResult{}
}

// opEntangle writes Imm into the dst register. After the step the
// scheduler tests R0 against each outbound edge's trigger mask (see
// Scheduler.drainSignals), so only an ENTANGLE into R0 fires edges. The
// VM itself only records the instruction's effect on registers.
func opEntangle(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	regs[ins.Dst] = ins.Imm
	advancePC(regs, pc)
	return StepResult{}
}

// opJz/opJnz use branchless conditional selection (spec.md §9: "no
// branches in the hot kernels") to compute the next PC.
func opJz(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	isZero := boolToU64(regs[ins.Src1] == 0)
	next := uint64(pc+1)*(1-isZero) + ins.Imm*isZero
	regs[PCReg] = next
	return StepResult{}
}

func opJnz(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	notZero := boolToU64(regs[ins.Src1] != 0)
	next := uint64(pc+1)*(1-notZero) + ins.Imm*notZero
	regs[PCReg] = next
	return StepResult{}
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func opCollapse(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	return StepResult{Collapsed: true}
}

func opLoadID(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	idx := int(ins.Imm)
	if idx >= 0 && idx < len(p.Consts) {
		regs[ins.Dst] = uint64(p.Consts[idx])
	}
	advancePC(regs, pc)
	return StepResult{}
}

func opBitTest(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	if vm.reasoner != nil {
		regs[ins.Dst] = boolToU64(vm.reasoner.H.Test(int(regs[ins.Src1]), int(regs[ins.Src2])))
	}
	advancePC(regs, pc)
	return StepResult{}
}

func opScanType(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	n := 0
	if vm.store != nil {
		n = len(vm.store.ScanType(EntityID(regs[ins.Src1]), EntityID(ins.Imm)))
	}
	regs[ins.Dst] = uint64(n)
	advancePC(regs, pc)
	return StepResult{DequeueCount: n}
}

func opScanPred(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	n := 0
	if vm.store != nil {
		n = len(vm.store.ScanPredicate(EntityID(ins.Imm)))
	}
	regs[ins.Dst] = uint64(n)
	advancePC(regs, pc)
	return StepResult{DequeueCount: n}
}

// opJoinHash runs the C6 hash-join kernel over two predicates' rows: Src1
// and Src2 hold the build/probe predicate EntityIDs, each row's subject is
// the join key and its object the carried value. The match count lands in
// Dst (spec.md §4.4, JOIN_HASH).
func opJoinHash(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	n := 0
	if vm.store != nil {
		build := triplesToJoinRows(vm.store.ScanPredicate(EntityID(regs[ins.Src1])))
		probe := triplesToJoinRows(vm.store.ScanPredicate(EntityID(regs[ins.Src2])))
		n = len(HashJoin(build, probe))
	}
	regs[ins.Dst] = uint64(n)
	advancePC(regs, pc)
	return StepResult{DequeueCount: n}
}

func triplesToJoinRows(triples []Triple) []HashJoinRow {
	rows := make([]HashJoinRow, len(triples))
	for i, t := range triples {
		rows[i] = HashJoinRow{Key: t.S, Value: t.O}
	}
	return rows
}

// opFilterGT runs the C6 Filter> kernel over Src1's predicate, treating
// each row's object as an f32 value (Imm packs the threshold as IEEE-754
// bits). The surviving-row count lands in Dst (spec.md §4.4, FILTER_GT).
func opFilterGT(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	n := 0
	if vm.store != nil {
		threshold := math.Float32frombits(uint32(ins.Imm))
		triples := vm.store.ScanPredicate(EntityID(regs[ins.Src1]))
		column := make([]float32, len(triples))
		for i, t := range triples {
			column[i] = float32(t.O)
		}
		n = len(FilterGT(column, threshold))
	}
	regs[ins.Dst] = uint64(n)
	advancePC(regs, pc)
	return StepResult{DequeueCount: n}
}

// opProject runs the C6 Project kernel over Src1's predicate rows,
// gathering the (subject, object) tuple columns named by Imm's column
// mask. The output row count lands in Dst (spec.md §4.4, PROJECT).
func opProject(vm *VM, regs *Registers, ins Instruction, p *Program) StepResult {
	pc := int(regs[PCReg])
	n := 0
	if vm.store != nil {
		triples := vm.store.ScanPredicate(EntityID(regs[ins.Src1]))
		rows := make([][]EntityID, len(triples))
		for i, t := range triples {
			rows[i] = []EntityID{t.S, t.O}
		}
		n = len(Project(rows, projectColumns(ins.Imm)))
	}
	regs[ins.Dst] = uint64(n)
	advancePC(regs, pc)
	return StepResult{DequeueCount: n}
}

// projectColumns decodes Imm's column-selection mask for PROJECT: 0
// selects the subject column, 1 the object column, anything else both.
func projectColumns(mask uint64) []int {
	switch mask {
	case 0:
		return []int{0}
	case 1:
		return []int{1}
	default:
		return []int{0, 1}
	}
}

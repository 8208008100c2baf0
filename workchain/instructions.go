package workchain

import "github.com/tailored-agentic-units/procrt/loader"

// Instruction is the closed sum of outline nodes spec.md §4.8 declares:
// FunctionCall, Block, If, While, Return. Each compiles to a matching
// Stepper via newStepper.
type Instruction interface {
	isInstruction()
	newStepper() Stepper
}

// -- FunctionCall ----------------------------------------------------------

type functionCallInstr struct {
	id    loader.Identifier
	label string
}

func (*functionCallInstr) isInstruction() {}
func (f *functionCallInstr) newStepper() Stepper {
	return &FunctionStepper{instr: f}
}

// Call builds a FunctionCall instruction from a StepFunc already
// registered via RegisterStepFunc (or registered implicitly here, if not
// yet known to the loader — RegisterSelf is idempotent for the same
// function value).
func Call(fn StepFunc) Instruction {
	id, err := loader.Default().RegisterSelf(fn)
	if err != nil {
		panic(err)
	}
	return &functionCallInstr{id: id}
}

// -- Block -------------------------------------------------------------

type blockInstr struct {
	steps []Instruction
}

func (*blockInstr) isInstruction() {}
func (b *blockInstr) newStepper() Stepper {
	return &BlockStepper{instr: b}
}

// Seq builds a Block instruction: sequential composition of steps, per
// spec.md §4.8.
func Seq(steps ...Instruction) Instruction {
	return &blockInstr{steps: steps}
}

// -- If ------------------------------------------------------------------

// Branch pairs a Predicate with the Instruction to run when it is true.
type Branch struct {
	Pred Predicate
	Body Instruction
}

type compiledBranch struct {
	pred loader.Identifier
	body Instruction
}

type ifInstr struct {
	branches []compiledBranch
	elseBody Instruction
}

func (*ifInstr) isInstruction() {}
func (i *ifInstr) newStepper() Stepper {
	return &IfStepper{instr: i, chosen: unchosen}
}

// If builds an If/elif/else instruction: "first-true wins," per
// spec.md §4.8. elseBody may be nil for an If with no else clause.
func If(branches []Branch, elseBody Instruction) Instruction {
	compiled := make([]compiledBranch, len(branches))
	for i, br := range branches {
		id, err := loader.Default().RegisterSelf(br.Pred)
		if err != nil {
			panic(err)
		}
		compiled[i] = compiledBranch{pred: id, body: br.Body}
	}
	return &ifInstr{branches: compiled, elseBody: elseBody}
}

// -- While -----------------------------------------------------------------

type whileInstr struct {
	pred loader.Identifier
	body Instruction
}

func (*whileInstr) isInstruction() {}
func (w *whileInstr) newStepper() Stepper {
	return &WhileStepper{instr: w}
}

// While builds a While instruction: "repeat while predicate true," per
// spec.md §4.8.
func While(pred Predicate, body Instruction) Instruction {
	id, err := loader.Default().RegisterSelf(pred)
	if err != nil {
		panic(err)
	}
	return &whileInstr{pred: id, body: body}
}

// -- Return ----------------------------------------------------------------

type returnInstr struct {
	exitCode any
}

func (*returnInstr) isInstruction() {}
func (r *returnInstr) newStepper() Stepper {
	return &ReturnStepper{instr: r}
}

// Return builds a Return instruction: "raises a distinguished internal
// signal to unwind the whole outline," per spec.md §4.8. exitCode may be
// nil.
func Return(exitCode any) Instruction {
	return &returnInstr{exitCode: exitCode}
}

// returnSignal is the internal unwind signal Return raises, caught by
// WorkChain.advance and converted into a terminal Stop command.
type returnSignal struct {
	exitCode any
}

func (r *returnSignal) Error() string { return "workchain: return raised" }

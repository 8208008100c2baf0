package workchain

import (
	"fmt"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/observability"
	"github.com/tailored-agentic-units/procrt/savable"
)

// Stepper is a positional cursor over one Instruction, per spec.md
// §4.8: "BlockStepper records index and child stepper bundle; IfStepper
// records which branch was chosen; WhileStepper records whether it is
// mid-body."
//
// step runs forward until either exactly one FunctionCall unit has
// executed (has=true, result is that call's return value) or this
// Stepper's Instruction is fully exhausted with nothing left to run
// (finished=true, has=false). Every concrete Stepper must resolve to one
// of those two outcomes before returning — never both false — so a
// parent Stepper's loop always makes progress.
type Stepper interface {
	step(wc *WorkChain) (result any, has bool, finished bool, err error)
	Save(ctx savable.Context) (*bundle.Bundle, error)
}

const (
	unchosen  = -1
	chosenElse = -2
)

// -- FunctionStepper ---------------------------------------------------

// FunctionStepper is a one-shot cursor: it runs its FunctionCall exactly
// once and is finished thereafter.
type FunctionStepper struct {
	instr *functionCallInstr
	done  bool
}

func (s *FunctionStepper) step(wc *WorkChain) (any, bool, bool, error) {
	if s.done {
		return nil, false, true, nil
	}
	fn, err := resolveStepFunc(s.instr.id)
	if err != nil {
		return nil, false, false, err
	}
	wc.emit(observability.EventWorkchainStepStart, map[string]any{"fn_id": string(s.instr.id)})
	result, err := fn(wc)
	if err != nil {
		return nil, false, false, err
	}
	wc.emit(observability.EventWorkchainStepComplete, map[string]any{"fn_id": string(s.instr.id)})
	s.done = true
	return result, true, true, nil
}

const functionStepperClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/workchain.FunctionStepper"

func (s *FunctionStepper) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(functionStepperClassID)
	b.Set("done", s.done)
	return b, nil
}

// -- BlockStepper --------------------------------------------------------

// BlockStepper walks its Block's instructions in order, delegating each
// to its own Stepper until that child reports finished, then advancing.
type BlockStepper struct {
	instr *blockInstr
	index int
	child Stepper
}

func (s *BlockStepper) step(wc *WorkChain) (any, bool, bool, error) {
	for {
		if s.index >= len(s.instr.steps) {
			return nil, false, true, nil
		}
		if s.child == nil {
			s.child = s.instr.steps[s.index].newStepper()
		}

		result, has, finished, err := s.child.step(wc)
		if err != nil {
			return nil, false, false, err
		}
		if has {
			if finished {
				s.index++
				s.child = nil
			}
			return result, true, s.index >= len(s.instr.steps) && finished, nil
		}
		if finished {
			s.index++
			s.child = nil
			continue
		}
		return nil, false, false, nil
	}
}

const blockStepperClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/workchain.BlockStepper"

func (s *BlockStepper) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(blockStepperClassID)
	b.Set("index", s.index)
	if s.child != nil {
		childBundle, err := s.child.Save(ctx)
		if err != nil {
			return nil, err
		}
		b.SetSavable("child", childBundle)
	}
	return b, nil
}

// -- IfStepper -----------------------------------------------------------

// IfStepper records which branch (or the else clause, or none) was
// chosen the first time it steps, then delegates to that branch's
// Stepper for every subsequent call.
type IfStepper struct {
	instr  *ifInstr
	chosen int
	child  Stepper
}

func (s *IfStepper) step(wc *WorkChain) (any, bool, bool, error) {
	if s.chosen == unchosen && s.child == nil {
		body, chosen, err := s.decide(wc)
		if err != nil {
			return nil, false, false, err
		}
		s.chosen = chosen
		if body == nil {
			return nil, false, true, nil
		}
		s.child = body.newStepper()
	}
	return s.child.step(wc)
}

func (s *IfStepper) decide(wc *WorkChain) (Instruction, int, error) {
	for i, br := range s.instr.branches {
		pred, err := resolvePredicate(br.pred)
		if err != nil {
			return nil, unchosen, err
		}
		ok, err := pred(wc)
		if err != nil {
			return nil, unchosen, err
		}
		wc.emit(observability.EventWorkchainBranch, map[string]any{"branch": i, "matched": ok})
		if ok {
			return br.body, i, nil
		}
	}
	if s.instr.elseBody != nil {
		wc.emit(observability.EventWorkchainBranch, map[string]any{"branch": "else", "matched": true})
		return s.instr.elseBody, chosenElse, nil
	}
	return nil, unchosen, nil
}

const ifStepperClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/workchain.IfStepper"

func (s *IfStepper) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(ifStepperClassID)
	b.Set("chosen", s.chosen)
	if s.child != nil {
		childBundle, err := s.child.Save(ctx)
		if err != nil {
			return nil, err
		}
		b.SetSavable("child", childBundle)
	}
	return b, nil
}

// -- WhileStepper --------------------------------------------------------

// WhileStepper re-evaluates its predicate whenever it has no active body
// Stepper, entering a fresh iteration while true and finishing the
// moment the predicate is false between iterations.
type WhileStepper struct {
	instr      *whileInstr
	child      Stepper
	iterations int
}

func (s *WhileStepper) step(wc *WorkChain) (any, bool, bool, error) {
	for {
		if s.child == nil {
			pred, err := resolvePredicate(s.instr.pred)
			if err != nil {
				return nil, false, false, err
			}
			ok, err := pred(wc)
			if err != nil {
				return nil, false, false, err
			}
			if !ok {
				return nil, false, true, nil
			}
			s.iterations++
			wc.emit(observability.EventWorkchainLoopIter, map[string]any{"iteration": s.iterations})
			s.child = s.instr.body.newStepper()
		}

		result, has, finished, err := s.child.step(wc)
		if err != nil {
			return nil, false, false, err
		}
		if has {
			if finished {
				s.child = nil
			}
			return result, true, false, nil
		}
		if finished {
			s.child = nil
			continue
		}
		return nil, false, false, nil
	}
}

const whileStepperClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/workchain.WhileStepper"

func (s *WhileStepper) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(whileStepperClassID)
	b.Set("iterations", s.iterations)
	if s.child != nil {
		childBundle, err := s.child.Save(ctx)
		if err != nil {
			return nil, err
		}
		b.SetSavable("child", childBundle)
	}
	return b, nil
}

// -- ReturnStepper ---------------------------------------------------------

// ReturnStepper always unwinds the whole outline via returnSignal, per
// spec.md §4.8.
type ReturnStepper struct {
	instr *returnInstr
}

func (s *ReturnStepper) step(wc *WorkChain) (any, bool, bool, error) {
	return nil, false, false, &returnSignal{exitCode: s.instr.exitCode}
}

const returnStepperClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/workchain.ReturnStepper"

func (s *ReturnStepper) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(returnStepperClassID)
	return b, nil
}

// -- load ------------------------------------------------------------------

// loadStepper reconstructs a Stepper from b, matching it against instr —
// the same position in the (unpersisted, class-level) Instruction tree
// New originally compiled, per spec.md §4.8's load-time contract.
func loadStepper(b *bundle.Bundle, instr Instruction) (Stepper, error) {
	switch node := instr.(type) {
	case *functionCallInstr:
		done, _ := b.Get("done")
		ok, _ := done.(bool)
		return &FunctionStepper{instr: node, done: ok}, nil

	case *blockInstr:
		indexAny, _ := b.Get("index")
		index, _ := indexAny.(int)
		s := &BlockStepper{instr: node, index: index}
		if childBundle, err := b.GetBundle("child"); err == nil {
			if index >= len(node.steps) {
				return nil, fmt.Errorf("workchain: block cursor index %d out of range", index)
			}
			child, err := loadStepper(childBundle, node.steps[index])
			if err != nil {
				return nil, err
			}
			s.child = child
		}
		return s, nil

	case *ifInstr:
		chosenAny, _ := b.Get("chosen")
		chosen, _ := chosenAny.(int)
		s := &IfStepper{instr: node, chosen: chosen}
		if childBundle, err := b.GetBundle("child"); err == nil {
			body, err := branchBody(node, chosen)
			if err != nil {
				return nil, err
			}
			child, err := loadStepper(childBundle, body)
			if err != nil {
				return nil, err
			}
			s.child = child
		}
		return s, nil

	case *whileInstr:
		iterAny, _ := b.Get("iterations")
		iterations, _ := iterAny.(int)
		s := &WhileStepper{instr: node, iterations: iterations}
		if childBundle, err := b.GetBundle("child"); err == nil {
			child, err := loadStepper(childBundle, node.body)
			if err != nil {
				return nil, err
			}
			s.child = child
		}
		return s, nil

	case *returnInstr:
		return &ReturnStepper{instr: node}, nil

	default:
		return nil, fmt.Errorf("workchain: unknown instruction type %T", instr)
	}
}

func branchBody(node *ifInstr, chosen int) (Instruction, error) {
	switch {
	case chosen == chosenElse:
		if node.elseBody == nil {
			return nil, fmt.Errorf("workchain: saved If chose else, but instruction has no else body")
		}
		return node.elseBody, nil
	case chosen >= 0 && chosen < len(node.branches):
		return node.branches[chosen].body, nil
	default:
		return nil, fmt.Errorf("workchain: invalid saved If branch %d", chosen)
	}
}

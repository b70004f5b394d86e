package simplego

import (
	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/backends"
	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/shapes"
	"github.com/dgbench/dgbench/types/tensors"
)

// Executable interprets one compiled kernel program. It assumes the program was
// type-checked at compile time; Execute only re-validates the caller-provided inputs.
type Executable struct {
	backend *Backend
	program *ir.Program

	// Name resolution: every named value gets a slot in the execution buffer.
	slotByName map[string]int
	numSlots   int

	inputSlots  []int
	inputShapes []shapes.Shape
	inputNames  []string

	// Pre-bound constant values: auxiliary data tensors and scalar literals. They are
	// copied into the execution buffer at the start of every run.
	constSlots   []int
	constTensors []*tensors.Tensor

	instrs []plannedInstr

	outputSlots  []int
	outputShapes []shapes.Shape
	outputNames  []string
}

type plannedInstr struct {
	op       ir.OpType
	outSlot  int
	argSlots []int
	outShape shapes.Shape
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

func newExecutable(backend *Backend, program *ir.Program, data *ir.Archive) (*Executable, error) {
	valueShapes, err := program.InferShapes()
	if err != nil {
		return nil, errors.WithMessagef(err, "simplego: compiling kernel %q", program.Name)
	}

	e := &Executable{
		backend:    backend,
		program:    program,
		slotByName: make(map[string]int, len(valueShapes)),
	}
	slotOf := func(name string) int {
		slot, found := e.slotByName[name]
		if !found {
			slot = e.numSlots
			e.numSlots++
			e.slotByName[name] = slot
		}
		return slot
	}

	for _, decl := range program.Inputs {
		e.inputSlots = append(e.inputSlots, slotOf(decl.Name))
		e.inputShapes = append(e.inputShapes, decl.Shape)
		e.inputNames = append(e.inputNames, decl.Name)
	}
	for _, decl := range program.Data {
		t, found := data.Entries[decl.Name]
		if !found {
			return nil, errors.Errorf("simplego: kernel %q declares data %q, missing from the data archive",
				program.Name, decl.Name)
		}
		if !t.Shape().Equal(decl.Shape) {
			return nil, errors.Errorf("simplego: kernel %q data %q declared as %s, archive has %s",
				program.Name, decl.Name, decl.Shape, t.Shape())
		}
		e.constSlots = append(e.constSlots, slotOf(decl.Name))
		e.constTensors = append(e.constTensors, t)
	}
	for _, lit := range program.Lits {
		t, err := ir.LiteralTensor(lit)
		if err != nil {
			return nil, errors.WithMessagef(err, "simplego: kernel %q", program.Name)
		}
		e.constSlots = append(e.constSlots, slotOf(lit.Name))
		e.constTensors = append(e.constTensors, t)
	}
	for _, inst := range program.Instrs {
		planned := plannedInstr{
			op:       inst.Op,
			argSlots: make([]int, len(inst.Args)),
			outShape: valueShapes[inst.Out],
		}
		for ii, arg := range inst.Args {
			planned.argSlots[ii] = e.slotByName[arg]
		}
		planned.outSlot = slotOf(inst.Out)
		e.instrs = append(e.instrs, planned)
	}
	for _, out := range program.Outputs {
		e.outputSlots = append(e.outputSlots, e.slotByName[out.Ref])
		e.outputShapes = append(e.outputShapes, valueShapes[out.Ref])
		e.outputNames = append(e.outputNames, out.Name)
	}
	return e, nil
}

// Inputs implements backends.Executable.
func (e *Executable) Inputs() (names []string, inputShapes []shapes.Shape) {
	return e.inputNames, e.inputShapes
}

// Outputs implements backends.Executable.
func (e *Executable) Outputs() (names []string, outputShapes []shapes.Shape) {
	return e.outputNames, e.outputShapes
}

// Execute implements backends.Executable.
func (e *Executable) Execute(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	if e.program == nil {
		return nil, errors.New("simplego: executable already finalized")
	}
	if len(inputs) != len(e.inputSlots) {
		return nil, errors.Errorf("simplego: kernel %q takes %d inputs, got %d",
			e.program.Name, len(e.inputSlots), len(inputs))
	}

	values := make([]*tensors.Tensor, e.numSlots)
	for ii, input := range inputs {
		if !input.Shape().Equal(e.inputShapes[ii]) {
			return nil, errors.Errorf("simplego: kernel %q input %q wants shape %s, got %s",
				e.program.Name, e.inputNames[ii], e.inputShapes[ii], input.Shape())
		}
		values[e.inputSlots[ii]] = input
	}
	for ii, slot := range e.constSlots {
		values[slot] = e.constTensors[ii]
	}

	for _, inst := range e.instrs {
		args := make([]*tensors.Tensor, len(inst.argSlots))
		for ii, slot := range inst.argSlots {
			args[ii] = values[slot]
		}
		result, err := ir.EvalOp(inst.op, inst.outShape, args)
		if err != nil {
			return nil, errors.WithMessagef(err, "simplego: executing kernel %q", e.program.Name)
		}
		values[inst.outSlot] = result
	}

	outputs := make([]*tensors.Tensor, len(e.outputSlots))
	for ii, slot := range e.outputSlots {
		outputs[ii] = values[slot]
	}
	return outputs, nil
}

// Finalize implements backends.Executable.
func (e *Executable) Finalize() {
	e.program = nil
	e.instrs = nil
	e.constTensors = nil
}

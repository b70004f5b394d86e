package benchmarks

import (
	"math"

	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/ir"
)

// Machine characterizes the hardware for the roofline bound.
type Machine struct {
	// PeakFlops is the peak float64 throughput in FLOP/s.
	PeakFlops float64 `yaml:"peak_flops"`

	// Bandwidth is the sustained memory bandwidth in bytes/s.
	Bandwidth float64 `yaml:"bandwidth"`
}

// DefaultMachine is a conservative desktop-class profile, used when no machine file is
// given on the command line.
var DefaultMachine = Machine{
	PeakFlops: 100e9,
	Bandwidth: 25e9,
}

// Counts is the static work estimate of one kernel invocation.
type Counts struct {
	// Flops counts floating point operations: one per element for element-wise ops,
	// 2*m*k*n per matmul.
	Flops int64

	// Bytes counts minimum memory traffic under a perfect-cache streaming model: every
	// input, data tensor and output moves exactly once; intermediates stay resident.
	Bytes int64
}

// Analyze derives the per-invocation work estimate from an emitted program. The program
// is type-checked in the process, so Analyze fails on malformed source.
func Analyze(p *ir.Program) (Counts, error) {
	valueShapes, err := p.InferShapes()
	if err != nil {
		return Counts{}, errors.WithMessagef(err, "analyzing program %q", p.Name)
	}

	var counts Counts
	for _, inst := range p.Instrs {
		out := valueShapes[inst.Out]
		switch {
		case inst.Op == ir.OpMatMul:
			lhs := valueShapes[inst.Args[0]]
			m, k, n := int64(lhs.Dim(0)), int64(lhs.Dim(1)), int64(out.Dim(1))
			counts.Flops += 2 * m * k * n
		default:
			counts.Flops += int64(out.Size())
		}
	}
	for _, decl := range p.Inputs {
		counts.Bytes += int64(decl.Shape.Memory())
	}
	for _, decl := range p.Data {
		counts.Bytes += int64(decl.Shape.Memory())
	}
	for _, out := range p.Outputs {
		counts.Bytes += int64(valueShapes[out.Ref].Memory())
	}
	return counts, nil
}

// RooflineRate returns the attainable FLOP/s of a kernel with the given work estimate
// on this machine: min(peak, arithmetic intensity x bandwidth). NaN if the estimate is
// degenerate.
func (mach Machine) RooflineRate(c Counts) float64 {
	if c.Flops <= 0 || c.Bytes <= 0 {
		return math.NaN()
	}
	intensity := float64(c.Flops) / float64(c.Bytes)
	return math.Min(mach.PeakFlops, intensity*mach.Bandwidth)
}

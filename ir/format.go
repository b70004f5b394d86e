package ir

import (
	"strconv"
	"strings"

	"github.com/dgbench/dgbench/types/shapes"
)

// FormatWidth is the fixed line width of formatted kernel source. Lines exceeding it are
// wrapped at token boundaries with a trailing backslash, the way the emitter always
// formats, so that formatting is a pure function of the program.
const FormatWidth = 80

const continuationIndent = "    "

// Format renders the program in its canonical text form. Formatting the same program
// always produces byte-identical output.
func (p *Program) Format() string {
	var b strings.Builder
	writeLine := func(tokens ...string) {
		width := 0
		for ii, token := range tokens {
			sep := ""
			if ii > 0 {
				sep = " "
			}
			// +2 accounts for the " \" a wrap would append.
			if ii > 0 && width+len(sep)+len(token)+2 > FormatWidth {
				b.WriteString(" \\\n")
				b.WriteString(continuationIndent)
				width = len(continuationIndent)
				sep = ""
			}
			b.WriteString(sep)
			b.WriteString(token)
			width += len(sep) + len(token)
		}
		b.WriteByte('\n')
	}

	writeLine("dgkernel", strconv.Itoa(FormatVersion))
	writeLine("kernel", p.Name)
	for _, decl := range p.Inputs {
		writeLine(OpParameter.String(), decl.Name, decl.Shape.Key())
	}
	for _, decl := range p.Data {
		writeLine(OpConstData.String(), decl.Name, decl.Shape.Key())
	}
	for _, lit := range p.Lits {
		writeLine(OpLiteral.String(), lit.Name, shapes.DTypeToken(lit.DType), formatLitValue(lit.Value))
	}
	for _, inst := range p.Instrs {
		tokens := make([]string, 0, 3+len(inst.Args))
		tokens = append(tokens, inst.Out, "=", inst.Op.String())
		tokens = append(tokens, inst.Args...)
		writeLine(tokens...)
	}
	for _, out := range p.Outputs {
		writeLine("output", out.Name, out.Ref)
	}
	return b.String()
}

func formatLitValue(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}

package ir

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/types/shapes"
)

// Parse reads kernel source in the canonical text form back into a Program. It undoes
// line continuations, skips blank and comment lines, and checks the header version.
//
// Parse only checks syntax; call Program.InferShapes afterwards to type-check.
func Parse(source string) (*Program, error) {
	p := &Program{}
	sawHeader := false

	lines := strings.Split(source, "\n")
	for lineNo := 0; lineNo < len(lines); lineNo++ {
		line := lines[lineNo]
		startLine := lineNo + 1
		for strings.HasSuffix(line, "\\") && lineNo+1 < len(lines) {
			lineNo++
			line = strings.TrimSuffix(line, "\\") + " " + strings.TrimPrefix(lines[lineNo], continuationIndent)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Fields(line)

		if !sawHeader {
			if len(tokens) != 2 || tokens[0] != "dgkernel" {
				return nil, errors.Errorf("line %d: kernel source must start with \"dgkernel <version>\"", startLine)
			}
			version, err := strconv.Atoi(tokens[1])
			if err != nil || version != FormatVersion {
				return nil, errors.Errorf("line %d: unsupported kernel format version %q (want %d)",
					startLine, tokens[1], FormatVersion)
			}
			sawHeader = true
			continue
		}

		var err error
		switch tokens[0] {
		case "kernel":
			if len(tokens) != 2 {
				err = errors.New("want \"kernel <name>\"")
				break
			}
			p.Name = tokens[1]
		case OpParameter.String():
			err = parseDecl(tokens, &p.Inputs)
		case OpConstData.String():
			err = parseDecl(tokens, &p.Data)
		case OpLiteral.String():
			err = parseLit(tokens, &p.Lits)
		case "output":
			if len(tokens) != 3 {
				err = errors.New("want \"output <name> <ref>\"")
				break
			}
			p.Outputs = append(p.Outputs, Output{Name: tokens[1], Ref: tokens[2]})
		default:
			err = parseInstruction(tokens, &p.Instrs)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", startLine)
		}
	}
	if !sawHeader {
		return nil, errors.New("empty kernel source")
	}
	if p.Name == "" {
		return nil, errors.New("kernel source has no \"kernel <name>\" line")
	}
	return p, nil
}

func parseDecl(tokens []string, decls *[]Decl) error {
	if len(tokens) != 3 {
		return errors.Errorf("want \"%s <name> <shape>\"", tokens[0])
	}
	shape, err := shapes.ParseKey(tokens[2])
	if err != nil {
		return err
	}
	*decls = append(*decls, Decl{Name: tokens[1], Shape: shape})
	return nil
}

func parseLit(tokens []string, lits *[]Lit) error {
	if len(tokens) != 4 {
		return errors.New("want \"lit <name> <dtype> <value>\"")
	}
	shape, err := shapes.ParseKey(tokens[2])
	if err != nil || !shape.IsScalar() {
		return errors.Errorf("bad literal dtype %q", tokens[2])
	}
	value, err := strconv.ParseFloat(tokens[3], 64)
	if err != nil {
		return errors.Errorf("bad literal value %q", tokens[3])
	}
	*lits = append(*lits, Lit{Name: tokens[1], DType: shape.DType, Value: value})
	return nil
}

func parseInstruction(tokens []string, instrs *[]Instruction) error {
	if len(tokens) < 4 || tokens[1] != "=" {
		return errors.Errorf("unrecognized statement starting with %q", tokens[0])
	}
	op, err := ParseOpType(tokens[2])
	if err != nil {
		return err
	}
	*instrs = append(*instrs, Instruction{Out: tokens[0], Op: op, Args: tokens[3:]})
	return nil
}

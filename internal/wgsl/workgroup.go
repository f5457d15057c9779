package wgsl

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/gogpu/naga/ir"
)

// workgroupArgs returns the arguments of each function's @workgroup_size
// attribute keyed by function name. An argument is the token texts it
// spans, so "8u" reads as ["8", "u"].
//
// naga folds these arguments into ir.EntryPoint.Workgroup and leaves 1 for
// any it cannot evaluate, so the arguments are read back from the source.
func workgroupArgs(src string) map[string][][]string {
	var s scanner.Scanner
	s.Init(strings.NewReader(src))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanComments | scanner.SkipComments
	s.Error = func(*scanner.Scanner, string) {}

	out := make(map[string][][]string)
	var pending [][]string
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		switch {
		case tok == '@':
			if s.Scan() == scanner.Ident && s.TokenText() == "workgroup_size" {
				pending = attributeArgs(&s)
			}
		case tok == scanner.Ident && s.TokenText() == "fn":
			if s.Scan() == scanner.Ident && pending != nil {
				out[s.TokenText()] = pending
			}
			pending = nil
		}
	}
	return out
}

func attributeArgs(s *scanner.Scanner) [][]string {
	if s.Scan() != '(' {
		return nil
	}
	var args [][]string
	var cur []string
	depth := 0
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		switch {
		case tok == ')' && depth == 0:
			if len(cur) > 0 {
				args = append(args, cur)
			}
			return args
		case tok == ',' && depth == 0:
			args = append(args, cur)
			cur = nil
			continue
		case tok == '(':
			depth++
		case tok == ')':
			depth--
		}
		cur = append(cur, s.TokenText())
	}
	return nil
}

// workgroupSize evaluates the @workgroup_size arguments of a compute entry
// point. Each argument must be an integer literal or the name of a module
// const; missing trailing dimensions are 1.
func workgroupSize(mod *ir.Module, entry string, args [][]string) ([3]uint32, error) {
	size := [3]uint32{1, 1, 1}
	if len(args) == 0 || len(args) > 3 {
		return size, fmt.Errorf("%w: compute entry point %s: workgroup size takes 1 to 3 arguments", ErrMalformed, entry)
	}
	for i, arg := range args {
		n, err := workgroupDim(mod, arg)
		if err != nil {
			return size, fmt.Errorf("%w: compute entry point %s: %v", ErrMalformed, entry, err)
		}
		if n == 0 {
			return size, fmt.Errorf("%w: compute entry point %s: workgroup size %q is zero", ErrMalformed, entry, strings.Join(arg, ""))
		}
		size[i] = n
	}
	return size, nil
}

func workgroupDim(mod *ir.Module, arg []string) (uint32, error) {
	text := strings.Join(arg, "")
	switch {
	case len(arg) == 1:
	case len(arg) == 2 && (arg[1] == "u" || arg[1] == "i"):
		n, err := strconv.ParseUint(arg[0], 0, 32)
		if err != nil {
			return 0, fmt.Errorf("workgroup size %q: %v", text, err)
		}
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("workgroup size %q is not a literal or const", text)
	}

	if n, err := strconv.ParseUint(text, 0, 32); err == nil {
		return uint32(n), nil
	}
	for _, c := range mod.Constants {
		if c.Name != text {
			continue
		}
		v, ok := c.Value.(ir.ScalarValue)
		switch {
		case !ok:
		case v.Kind == ir.ScalarUint && v.Bits <= 0xFFFFFFFF:
			return uint32(v.Bits), nil
		case v.Kind == ir.ScalarSint && int32(uint32(v.Bits)) >= 0:
			return uint32(int32(uint32(v.Bits))), nil
		}
		return 0, fmt.Errorf("workgroup size const %s is not a non-negative integer", text)
	}
	return 0, fmt.Errorf("workgroup size %q is not a literal or const", text)
}

package sandboxruntime

import (
	"fmt"
	"sort"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"

	"github.com/arcline-labs/backdrop/internal/common"
)

// dangerousDunders is the attribute-access deny-list from spec §4.5
// step 2. Only exact attribute names match.
var dangerousDunders = map[string]bool{
	"__class__":         true,
	"__subclasses__":    true,
	"__globals__":       true,
	"__builtins__":      true,
	"__getattribute__":  true,
	"__getattr__":       true,
	"__dict__":          true,
	"__bases__":         true,
	"__mro__":           true,
	"__reduce__":        true,
	"__reduce_ex__":     true,
	"__subclasshook__":  true,
}

// bareCalleeDenyList is the set of bare-name callees spec §4.5 step 2
// rejects outright, regardless of arguments.
var bareCalleeDenyList = map[string]bool{
	"exec": true,
	"eval": true,
	"open": true,
}

// vetSource walks the parsed syntax tree of src and returns the first
// violation found, wrapped in common.ErrUserCodeRejected, or nil if
// src passes every check in spec §4.5 step 2. It never executes src.
func vetSource(src string) error {
	tree, err := parser.ParseString(src, "exec")
	if err != nil {
		return fmt.Errorf("%w: syntax error: %v", common.ErrUserCodeRejected, err)
	}

	v := &validatorVisitor{}
	ast.Walk(v, tree)
	if v.violation != "" {
		return fmt.Errorf("%w: %s", common.ErrUserCodeRejected, v.violation)
	}
	return nil
}

// validatorVisitor implements ast.Visitor, recording the first
// disallowed construct it encounters and then short-circuiting
// further descent (Visit returns nil once a violation is recorded).
type validatorVisitor struct {
	violation string
}

func (v *validatorVisitor) Visit(node ast.Ast) ast.Visitor {
	if v.violation != "" || node == nil {
		return nil
	}

	switch n := node.(type) {
	case *ast.Import:
		names := make([]string, 0, len(n.Names))
		for _, alias := range n.Names {
			names = append(names, string(alias.Name))
		}
		sort.Strings(names)
		v.violation = fmt.Sprintf("import statement is not allowed: import %v", names)
		return nil

	case *ast.ImportFrom:
		v.violation = fmt.Sprintf("import statement is not allowed: from %s import ...", n.Module)
		return nil

	case *ast.Call:
		if name, ok := n.Func.(*ast.Name); ok {
			callee := string(name.Id)
			if bareCalleeDenyList[callee] {
				v.violation = fmt.Sprintf("call to %q is not allowed", callee)
				return nil
			}
		}

	case *ast.Attribute:
		attr := string(n.Attr)
		if dangerousDunders[attr] {
			v.violation = fmt.Sprintf("attribute access to %q is not allowed", attr)
			return nil
		}
	}

	return v
}

package il

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrTermSyntax is wrapped by every structural error in a term file.
var ErrTermSyntax = errors.New("malformed term")

// LoadTerms reads a YAML term file from r.
func LoadTerms(r io.Reader) ([]Term, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseTerms(data)
}

// ParseTerms decodes a YAML sequence of statements. Each statement is
// either a bare keyword (fail, stop, succeed, revert) or a single-key map:
//
//	- assign: {lhs: {memory: 0}, rhs: {op: "+", lhs: 1, rhs: 2}}
//	- ifgoto: {cond: {calldata: 0}, label: exit}
//	- label: exit
//	- succeed: [{storage: 0}]
//
// Expressions are maps ({op, lhs, rhs}, {int: "..."}, {hex: "..."},
// {memory|storage|calldata: index}) or plain integer scalars.
func ParseTerms(data []byte) ([]Term, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, syntaxError(root, "expected a list of statements")
	}
	terms := make([]Term, 0, len(root.Content))
	for _, n := range root.Content {
		t, err := decodeStatement(n)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, nil
}

func syntaxError(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s: %w", n.Line, fmt.Sprintf(format, args...), ErrTermSyntax)
}

func decodeStatement(n *yaml.Node) (Term, error) {
	if n.Kind == yaml.ScalarNode {
		switch n.Value {
		case "fail":
			return Fail{}, nil
		case "stop":
			return Stop{}, nil
		case "succeed":
			return Succeed{}, nil
		case "revert":
			return Revert{}, nil
		}
		return nil, syntaxError(n, "unknown statement %q", n.Value)
	}
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, syntaxError(n, "statement must be a single-key map")
	}
	key, val := n.Content[0].Value, n.Content[1]

	switch key {
	case "fail":
		return Fail{}, nil
	case "stop":
		return Stop{}, nil
	case "assert":
		cond, err := decodeExpr(val)
		if err != nil {
			return nil, err
		}
		return Assert{Cond: cond}, nil
	case "assign":
		fields, err := fieldsOf(val, "lhs", "rhs")
		if err != nil {
			return nil, err
		}
		lhs, err := decodeExpr(fields["lhs"])
		if err != nil {
			return nil, err
		}
		rhs, err := decodeExpr(fields["rhs"])
		if err != nil {
			return nil, err
		}
		return Assignment{LHS: lhs, RHS: rhs}, nil
	case "goto":
		name, err := labelName(val)
		if err != nil {
			return nil, err
		}
		return Goto{Label: name}, nil
	case "label":
		name, err := labelName(val)
		if err != nil {
			return nil, err
		}
		return Label{Name: name}, nil
	case "ifgoto":
		fields, err := fieldsOf(val, "cond", "label")
		if err != nil {
			return nil, err
		}
		cond, err := decodeExpr(fields["cond"])
		if err != nil {
			return nil, err
		}
		name, err := labelName(fields["label"])
		if err != nil {
			return nil, err
		}
		return IfGoto{Cond: cond, Label: name}, nil
	case "revert", "succeed":
		exprs, err := decodeExprList(val)
		if err != nil {
			return nil, err
		}
		if key == "revert" {
			return Revert{Exprs: exprs}, nil
		}
		return Succeed{Exprs: exprs}, nil
	}
	return nil, syntaxError(n, "unknown statement %q", key)
}

func labelName(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode || n.Value == "" {
		return "", syntaxError(n, "expected a label name")
	}
	return n.Value, nil
}

// fieldsOf returns the values of a mapping which must contain exactly the
// given keys.
func fieldsOf(n *yaml.Node, keys ...string) (map[string]*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, syntaxError(n, "expected a map with keys %s", strings.Join(keys, ", "))
	}
	fields := make(map[string]*yaml.Node, len(keys))
	for i := 0; i+1 < len(n.Content); i += 2 {
		fields[n.Content[i].Value] = n.Content[i+1]
	}
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return nil, syntaxError(n, "missing %q", k)
		}
	}
	if len(fields) != len(keys) {
		return nil, syntaxError(n, "unexpected keys, want %s", strings.Join(keys, ", "))
	}
	return fields, nil
}

func decodeExprList(n *yaml.Node) ([]Term, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.ShortTag() == "!!null" {
			return nil, nil
		}
		e, err := decodeExpr(n)
		if err != nil {
			return nil, err
		}
		return []Term{e}, nil
	case yaml.SequenceNode:
		exprs := make([]Term, 0, len(n.Content))
		for _, c := range n.Content {
			e, err := decodeExpr(c)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
		return exprs, nil
	}
	return nil, syntaxError(n, "expected a list of expressions")
}

var regions = map[string]Region{
	"memory":   Memory,
	"storage":  Storage,
	"calldata": CallData,
}

func decodeExpr(n *yaml.Node) (Term, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.ShortTag() != "!!int" {
			return nil, syntaxError(n, "expected an expression, got %q", n.Value)
		}
		return decodeLiteral(n, n.Value)
	case yaml.MappingNode:
	default:
		return nil, syntaxError(n, "expected an expression")
	}

	if len(n.Content) == 2 {
		key, val := n.Content[0].Value, n.Content[1]
		switch key {
		case "int":
			lit, err := ParseInt(val.Value)
			if err != nil {
				return nil, syntaxError(val, "%v", err)
			}
			return lit, nil
		case "hex":
			lit, err := ParseHex(val.Value)
			if err != nil {
				return nil, syntaxError(val, "%v", err)
			}
			return lit, nil
		}
		if r, ok := regions[key]; ok {
			index, err := decodeExpr(val)
			if err != nil {
				return nil, err
			}
			return ArrayAccess{Src: MemoryAccess{Region: r}, Index: index}, nil
		}
	}

	fields, err := fieldsOf(n, "op", "lhs", "rhs")
	if err != nil {
		return nil, err
	}
	op, ok := ParseBinOp(fields["op"].Value)
	if !ok {
		return nil, syntaxError(fields["op"], "unknown operator %q", fields["op"].Value)
	}
	lhs, err := decodeExpr(fields["lhs"])
	if err != nil {
		return nil, err
	}
	rhs, err := decodeExpr(fields["rhs"])
	if err != nil {
		return nil, err
	}
	return Binary{Op: op, LHS: lhs, RHS: rhs}, nil
}

func decodeLiteral(n *yaml.Node, s string) (Term, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		lit, err := ParseHex(s)
		if err != nil {
			return nil, syntaxError(n, "%v", err)
		}
		return lit, nil
	}
	lit, err := ParseInt(s)
	if err != nil {
		return nil, syntaxError(n, "%v", err)
	}
	return lit, nil
}

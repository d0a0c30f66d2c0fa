package facts

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

var errBadExpr = errors.New("expression is not plain arithmetic")

// Evaluate computes an expression built only from numeric literals, the
// binary operators + - * /, unary + -, and parentheses. Anything else,
// including identifiers, calls and selectors, is rejected.
func Evaluate(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, errBadExpr
	}
	// The Go scanner would silently drop comments.
	if strings.Contains(expr, "//") || strings.Contains(expr, "/*") {
		return 0, errBadExpr
	}
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadExpr, err)
	}
	return evalNode(node)
}

func evalNode(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, errBadExpr
		}
		if strings.TrimLeft(n.Value, "0123456789.") != "" {
			return 0, errBadExpr
		}
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, errBadExpr
		}
		return v, nil
	case *ast.ParenExpr:
		return evalNode(n.X)
	case *ast.UnaryExpr:
		v, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return v, nil
		case token.SUB:
			return -v, nil
		}
		return 0, errBadExpr
	case *ast.BinaryExpr:
		l, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		r, err := evalNode(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return l + r, nil
		case token.SUB:
			return l - r, nil
		case token.MUL:
			return l * r, nil
		case token.QUO:
			if r == 0 {
				return 0, errors.New("division by zero")
			}
			return l / r, nil
		}
		return 0, errBadExpr
	default:
		return 0, errBadExpr
	}
}

// FormatNumber renders a value the way the reply table expects: integral
// values keep one decimal ("40.0"), others use the shortest round-trip
// form, with exponent notation outside [1e-4, 1e16).
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

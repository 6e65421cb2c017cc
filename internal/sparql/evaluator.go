package sparql

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

// Evaluator evaluates filter expressions against bindings.
// An evaluation error (unbound variable, type error) is reported to the
// caller, which treats the candidate solution as rejected.
type Evaluator struct{}

// NewEvaluator creates a new expression evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Apply evaluates a filter against a binding lookup and returns whether the
// candidate solution passes.
func (e *Evaluator) Apply(f *Filter, get func(name string) rdf.Term) (bool, error) {
	result, err := e.Evaluate(f.Expression, get)
	if err != nil {
		return false, err
	}
	return effectiveBooleanValue(result)
}

// Evaluate evaluates an expression against a binding lookup and returns the
// resulting term.
func (e *Evaluator) Evaluate(expr Expression, get func(name string) rdf.Term) (rdf.Term, error) {
	switch ex := expr.(type) {
	case *BinaryExpression:
		return e.evaluateBinary(ex, get)
	case *UnaryExpression:
		return e.evaluateUnary(ex, get)
	case *VariableExpression:
		value := get(ex.Variable.Name)
		if value == nil {
			return nil, fmt.Errorf("unbound variable: ?%s", ex.Variable.Name)
		}
		return value, nil
	case *LiteralExpression:
		return ex.Term, nil
	case *FunctionCallExpression:
		return e.evaluateFunctionCall(ex, get)
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", expr)
	}
}

func (e *Evaluator) evaluateBinary(expr *BinaryExpression, get func(name string) rdf.Term) (rdf.Term, error) {
	// logical operators short-circuit
	switch expr.Operator {
	case "||", "&&":
		left, err := e.Evaluate(expr.Left, get)
		if err != nil {
			return nil, err
		}
		lv, err := effectiveBooleanValue(left)
		if err != nil {
			return nil, err
		}
		if expr.Operator == "||" && lv {
			return rdf.NewBooleanLiteral(true), nil
		}
		if expr.Operator == "&&" && !lv {
			return rdf.NewBooleanLiteral(false), nil
		}
		right, err := e.Evaluate(expr.Right, get)
		if err != nil {
			return nil, err
		}
		rv, err := effectiveBooleanValue(right)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(rv), nil
	}

	left, err := e.Evaluate(expr.Left, get)
	if err != nil {
		return nil, err
	}
	right, err := e.Evaluate(expr.Right, get)
	if err != nil {
		return nil, err
	}

	switch expr.Operator {
	case "=":
		return rdf.NewBooleanLiteral(termsCompareEqual(left, right)), nil
	case "!=":
		return rdf.NewBooleanLiteral(!termsCompareEqual(left, right)), nil
	case "<", ">", "<=", ">=":
		cmp, err := compareOrdered(left, right)
		if err != nil {
			return nil, err
		}
		var result bool
		switch expr.Operator {
		case "<":
			result = cmp < 0
		case ">":
			result = cmp > 0
		case "<=":
			result = cmp <= 0
		case ">=":
			result = cmp >= 0
		}
		return rdf.NewBooleanLiteral(result), nil
	case "+", "-", "*", "/":
		return evaluateArithmetic(expr.Operator, left, right)
	default:
		return nil, fmt.Errorf("unsupported operator: %s", expr.Operator)
	}
}

func (e *Evaluator) evaluateUnary(expr *UnaryExpression, get func(name string) rdf.Term) (rdf.Term, error) {
	operand, err := e.Evaluate(expr.Operand, get)
	if err != nil {
		return nil, err
	}

	switch expr.Operator {
	case "!":
		v, err := effectiveBooleanValue(operand)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(!v), nil
	case "-":
		n, err := numericValue(operand)
		if err != nil {
			return nil, err
		}
		return rdf.NewDoubleLiteral(-n), nil
	default:
		return nil, fmt.Errorf("unsupported unary operator: %s", expr.Operator)
	}
}

func (e *Evaluator) evaluateFunctionCall(expr *FunctionCallExpression, get func(name string) rdf.Term) (rdf.Term, error) {
	// BOUND inspects the binding directly rather than evaluating its
	// argument, which would fail on an unbound variable
	if expr.Name == "BOUND" {
		if len(expr.Args) != 1 {
			return nil, fmt.Errorf("BOUND expects one argument")
		}
		v, ok := expr.Args[0].(*VariableExpression)
		if !ok {
			return nil, fmt.Errorf("BOUND expects a variable argument")
		}
		return rdf.NewBooleanLiteral(get(v.Variable.Name) != nil), nil
	}

	args := make([]rdf.Term, len(expr.Args))
	for i, a := range expr.Args {
		v, err := e.Evaluate(a, get)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch expr.Name {
	case "STR":
		if len(args) != 1 {
			return nil, fmt.Errorf("STR expects one argument")
		}
		switch t := args[0].(type) {
		case *rdf.NamedNode:
			return rdf.NewLiteral(t.IRI), nil
		case *rdf.Literal:
			return rdf.NewLiteral(t.Value), nil
		default:
			return nil, fmt.Errorf("STR is not defined for %T", args[0])
		}
	case "LANG":
		lit, ok := args[0].(*rdf.Literal)
		if !ok {
			return nil, fmt.Errorf("LANG expects a literal")
		}
		return rdf.NewLiteral(lit.Language), nil
	case "DATATYPE":
		lit, ok := args[0].(*rdf.Literal)
		if !ok {
			return nil, fmt.Errorf("DATATYPE expects a literal")
		}
		if lit.Datatype != nil {
			return lit.Datatype, nil
		}
		if lit.Language != "" {
			return rdf.NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"), nil
		}
		return rdf.XSDString, nil
	case "ISIRI", "ISURI":
		_, ok := args[0].(*rdf.NamedNode)
		return rdf.NewBooleanLiteral(ok), nil
	case "ISLITERAL":
		_, ok := args[0].(*rdf.Literal)
		return rdf.NewBooleanLiteral(ok), nil
	case "ISBLANK":
		_, ok := args[0].(*rdf.BlankNode)
		return rdf.NewBooleanLiteral(ok), nil
	case "REGEX":
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("REGEX expects two or three arguments")
		}
		text, ok := args[0].(*rdf.Literal)
		if !ok {
			return nil, fmt.Errorf("REGEX expects a literal text argument")
		}
		pat, ok := args[1].(*rdf.Literal)
		if !ok {
			return nil, fmt.Errorf("REGEX expects a literal pattern argument")
		}
		pattern := pat.Value
		if len(args) == 3 {
			flags, ok := args[2].(*rdf.Literal)
			if !ok {
				return nil, fmt.Errorf("REGEX expects literal flags")
			}
			if flags.Value == "i" {
				pattern = "(?i)" + pattern
			}
		}
		matched, err := regexp.MatchString(pattern, text.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid REGEX pattern: %w", err)
		}
		return rdf.NewBooleanLiteral(matched), nil
	default:
		return nil, fmt.Errorf("unsupported function: %s", expr.Name)
	}
}

// termsCompareEqual implements the "=" operator: numeric literals compare by
// value, everything else structurally.
func termsCompareEqual(a, b rdf.Term) bool {
	av, aerr := numericValue(a)
	bv, berr := numericValue(b)
	if aerr == nil && berr == nil {
		return av == bv
	}
	return a.Equals(b)
}

// compareOrdered orders two terms for the relational operators. Numeric
// literals compare numerically; plain and xsd:string literals compare
// lexicographically; anything else is a type error.
func compareOrdered(a, b rdf.Term) (int, error) {
	av, aerr := numericValue(a)
	bv, berr := numericValue(b)
	if aerr == nil && berr == nil {
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	}

	al, aok := a.(*rdf.Literal)
	bl, bok := b.(*rdf.Literal)
	if aok && bok && isStringLiteral(al) && isStringLiteral(bl) {
		switch {
		case al.Value < bl.Value:
			return -1, nil
		case al.Value > bl.Value:
			return 1, nil
		default:
			return 0, nil
		}
	}

	return 0, fmt.Errorf("cannot order %s and %s", a, b)
}

func isStringLiteral(l *rdf.Literal) bool {
	return l.Language == "" && (l.Datatype == nil || l.Datatype.Equals(rdf.XSDString))
}

func evaluateArithmetic(op string, a, b rdf.Term) (rdf.Term, error) {
	av, err := numericValue(a)
	if err != nil {
		return nil, err
	}
	bv, err := numericValue(b)
	if err != nil {
		return nil, err
	}

	var result float64
	switch op {
	case "+":
		result = av + bv
	case "-":
		result = av - bv
	case "*":
		result = av * bv
	case "/":
		if bv == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = av / bv
	}

	return rdf.NewDoubleLiteral(result), nil
}

// numericValue extracts a numeric value from a literal with a numeric
// datatype.
func numericValue(t rdf.Term) (float64, error) {
	lit, ok := t.(*rdf.Literal)
	if !ok || lit.Datatype == nil {
		return 0, fmt.Errorf("not a numeric literal: %s", t)
	}
	switch {
	case lit.Datatype.Equals(rdf.XSDInteger), lit.Datatype.Equals(rdf.XSDDecimal), lit.Datatype.Equals(rdf.XSDDouble):
		return strconv.ParseFloat(lit.Value, 64)
	default:
		return 0, fmt.Errorf("not a numeric literal: %s", t)
	}
}

// effectiveBooleanValue implements the SPARQL EBV rules for the supported
// literal types.
func effectiveBooleanValue(t rdf.Term) (bool, error) {
	lit, ok := t.(*rdf.Literal)
	if !ok {
		return false, fmt.Errorf("no effective boolean value for %s", t)
	}

	if lit.Datatype != nil && lit.Datatype.Equals(rdf.XSDBoolean) {
		return lit.Value == "true" || lit.Value == "1", nil
	}
	if n, err := numericValue(lit); err == nil {
		return n != 0, nil
	}
	if isStringLiteral(lit) {
		return lit.Value != "", nil
	}

	return false, fmt.Errorf("no effective boolean value for %s", t)
}

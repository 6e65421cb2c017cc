package sparql

import (
	"github.com/aleksaelezovic/tristream/pkg/rdf"
)

// Query represents a parsed SPARQL SELECT query, the only query form the
// continuous engine supports.
type Query struct {
	Projection []*ProjectionItem // nil means SELECT *
	Distinct   bool
	Reduced    bool
	Where      *GraphPattern
	Limit      *int64
	Offset     *int64
}

// ProjectionItem is one element of the SELECT clause: a bare variable, a
// renamed variable `(?x AS ?y)`, or a constant `(<iri> AS ?y)`.
type ProjectionItem struct {
	Variable *Variable // source variable, nil for constants
	Constant rdf.Term  // constant value, nil for variables
	Alias    string    // target name for AS, "" if none
}

// GraphPattern is a basic graph pattern: triple patterns plus filters.
type GraphPattern struct {
	Patterns []*TriplePattern
	Filters  []*Filter
}

// TriplePattern represents a triple pattern with possible variables
type TriplePattern struct {
	Subject   TermOrVariable
	Predicate TermOrVariable
	Object    TermOrVariable
}

// TermOrVariable can be either an RDF term or a variable
type TermOrVariable struct {
	Term     rdf.Term
	Variable *Variable
}

// IsVariable returns true if this is a variable
func (t *TermOrVariable) IsVariable() bool {
	return t.Variable != nil
}

// Variable represents a SPARQL variable
type Variable struct {
	Name string
}

// Filter represents a FILTER expression
type Filter struct {
	Expression Expression
}

// Expression represents a SPARQL expression
type Expression interface {
	expressionNode()
}

// BinaryExpression represents a binary operation
type BinaryExpression struct {
	Operator string // "||", "&&", "=", "!=", "<", ">", "<=", ">=", "+", "-", "*", "/"
	Left     Expression
	Right    Expression
}

// UnaryExpression represents a unary operation
type UnaryExpression struct {
	Operator string // "!", "-"
	Operand  Expression
}

// VariableExpression references a variable
type VariableExpression struct {
	Variable *Variable
}

// LiteralExpression holds a constant term
type LiteralExpression struct {
	Term rdf.Term
}

// FunctionCallExpression represents a built-in function call
type FunctionCallExpression struct {
	Name string // upper-cased: "BOUND", "REGEX", "STR", "LANG", ...
	Args []Expression
}

func (*BinaryExpression) expressionNode()       {}
func (*UnaryExpression) expressionNode()        {}
func (*VariableExpression) expressionNode()     {}
func (*LiteralExpression) expressionNode()      {}
func (*FunctionCallExpression) expressionNode() {}

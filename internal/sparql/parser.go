package sparql

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aleksaelezovic/tristream/pkg/rdf"
	"github.com/aleksaelezovic/tristream/pkg/stream"
)

const rdfTypeIRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Parser parses the SPARQL SELECT subset supported by the continuous engine.
// Recognized-but-unsupported constructs (UNION, OPTIONAL, ORDER BY, EXISTS,
// other query forms, ...) fail with stream.ErrIncompatibleQuery; malformed
// text fails with stream.ErrInvalidQuery.
type Parser struct {
	input    string
	pos      int
	length   int
	prefixes map[string]string
}

// NewParser creates a new SPARQL parser
func NewParser(input string) *Parser {
	return &Parser{
		input:    input,
		pos:      0,
		length:   len(input),
		prefixes: make(map[string]string),
	}
}

// Parse parses a SPARQL query text.
func Parse(input string) (*Query, error) {
	return NewParser(input).Parse()
}

// Parse parses a SPARQL query
func (p *Parser) Parse() (*Query, error) {
	q, err := p.parse()
	if err != nil {
		if errors.Is(err, stream.ErrIncompatibleQuery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", stream.ErrInvalidQuery, err)
	}
	return q, nil
}

func (p *Parser) parse() (*Query, error) {
	for p.matchKeyword("PREFIX") {
		if err := p.parsePrefix(); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("BASE") {
		return nil, fmt.Errorf("expected SELECT query after prefix declarations")
	}

	for _, form := range []string{"ASK", "CONSTRUCT", "DESCRIBE", "INSERT", "DELETE"} {
		if p.matchKeyword(form) {
			return nil, incompatible("%s query form", form)
		}
	}
	if !p.matchKeyword("SELECT") {
		return nil, fmt.Errorf("expected SELECT")
	}

	query := &Query{}

	if p.matchKeyword("DISTINCT") {
		query.Distinct = true
	} else if p.matchKeyword("REDUCED") {
		query.Reduced = true
	}

	projection, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	query.Projection = projection

	if !p.matchKeyword("WHERE") {
		return nil, fmt.Errorf("expected WHERE clause")
	}

	where, err := p.parseGraphPattern()
	if err != nil {
		return nil, err
	}
	query.Where = where

	if p.matchKeyword("ORDER") {
		return nil, incompatible("ORDER BY modifier")
	}
	if p.matchKeyword("GROUP") {
		return nil, incompatible("GROUP BY modifier")
	}
	if p.matchKeyword("HAVING") {
		return nil, incompatible("HAVING modifier")
	}

	// LIMIT and OFFSET may appear in either order
	for {
		if p.matchKeyword("LIMIT") {
			limit, err := p.parseInteger()
			if err != nil {
				return nil, err
			}
			query.Limit = &limit
			continue
		}
		if p.matchKeyword("OFFSET") {
			offset, err := p.parseInteger()
			if err != nil {
				return nil, err
			}
			query.Offset = &offset
			continue
		}
		break
	}

	p.skipWhitespace()
	if p.pos < p.length {
		return nil, fmt.Errorf("unexpected input after query: %q", p.input[p.pos:])
	}

	return query, nil
}

// parsePrefix parses one PREFIX declaration (the PREFIX keyword has already
// been consumed)
func (p *Parser) parsePrefix() error {
	p.skipWhitespace()

	name := p.readWhile(isNameChar)
	if p.peek() != ':' {
		return fmt.Errorf("expected ':' in prefix declaration")
	}
	p.advance()

	p.skipWhitespace()
	iri, err := p.parseIRI()
	if err != nil {
		return err
	}

	p.prefixes[name] = iri
	return nil
}

// parseProjection parses the projection (variables, AS expressions, or *)
func (p *Parser) parseProjection() ([]*ProjectionItem, error) {
	p.skipWhitespace()

	if p.peek() == '*' {
		p.advance()
		return nil, nil // nil means SELECT *
	}

	var items []*ProjectionItem
	for {
		p.skipWhitespace()
		ch := p.peek()

		if ch == '?' || ch == '$' {
			variable, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			items = append(items, &ProjectionItem{Variable: variable})
			continue
		}

		if ch == '(' {
			item, err := p.parseProjectionExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			continue
		}

		break
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("expected at least one variable or *")
	}

	return items, nil
}

// parseProjectionExpr parses `(?x AS ?y)` or `(<constant> AS ?y)`
func (p *Parser) parseProjectionExpr() (*ProjectionItem, error) {
	p.advance() // consume '('
	p.skipWhitespace()

	item := &ProjectionItem{}

	ch := p.peek()
	if ch == '?' || ch == '$' {
		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		item.Variable = variable
	} else {
		term, err := p.parseTerm()
		if err != nil {
			return nil, incompatible("projection expression (only variables and constants may be aliased)")
		}
		item.Constant = term
	}

	if !p.matchKeyword("AS") {
		return nil, fmt.Errorf("expected AS in projection expression")
	}

	target, err := p.parseVariable()
	if err != nil {
		return nil, err
	}
	item.Alias = target.Name

	p.skipWhitespace()
	if p.peek() != ')' {
		return nil, fmt.Errorf("expected ')' to close projection expression")
	}
	p.advance()

	return item, nil
}

// parseGraphPattern parses the WHERE clause content
func (p *Parser) parseGraphPattern() (*GraphPattern, error) {
	p.skipWhitespace()

	if p.peek() != '{' {
		return nil, fmt.Errorf("expected '{' to start graph pattern")
	}
	p.advance()

	pattern := &GraphPattern{}

	for {
		p.skipWhitespace()

		if p.pos >= p.length {
			return nil, fmt.Errorf("unterminated graph pattern")
		}
		if p.peek() == '}' {
			p.advance()
			break
		}

		// recognized-but-unsupported pattern forms
		for _, kw := range []string{"OPTIONAL", "MINUS", "GRAPH", "SERVICE", "BIND", "VALUES", "UNION"} {
			if p.matchKeyword(kw) {
				return nil, incompatible("%s pattern", kw)
			}
		}
		if p.peek() == '{' {
			return nil, incompatible("group graph pattern (UNION or nested group)")
		}

		if p.matchKeyword("FILTER") {
			filter, err := p.parseFilter()
			if err != nil {
				return nil, err
			}
			pattern.Filters = append(pattern.Filters, filter)
			continue
		}

		triple, err := p.parseTriplePattern()
		if err != nil {
			return nil, err
		}
		pattern.Patterns = append(pattern.Patterns, triple)

		p.skipWhitespace()
		if p.peek() == '.' {
			p.advance()
		}
	}

	if len(pattern.Patterns) == 0 {
		return nil, fmt.Errorf("graph pattern has no triple patterns")
	}

	return pattern, nil
}

// parseTriplePattern parses a single triple pattern
func (p *Parser) parseTriplePattern() (*TriplePattern, error) {
	p.skipWhitespace()

	subject, err := p.parseTermOrVariable()
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject: %w", err)
	}

	p.skipWhitespace()
	predicate, err := p.parseTermOrVariable()
	if err != nil {
		return nil, fmt.Errorf("failed to parse predicate: %w", err)
	}

	p.skipWhitespace()
	object, err := p.parseTermOrVariable()
	if err != nil {
		return nil, fmt.Errorf("failed to parse object: %w", err)
	}

	p.skipWhitespace()
	if p.peek() == ';' || p.peek() == ',' {
		return nil, incompatible("predicate-object list (';' and ',' abbreviations)")
	}

	return &TriplePattern{
		Subject:   *subject,
		Predicate: *predicate,
		Object:    *object,
	}, nil
}

// parseTermOrVariable parses either an RDF term or a variable
func (p *Parser) parseTermOrVariable() (*TermOrVariable, error) {
	p.skipWhitespace()

	ch := p.peek()
	if ch == '?' || ch == '$' {
		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Variable: variable}, nil
	}

	term, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return &TermOrVariable{Term: term}, nil
}

// parseTerm parses a concrete RDF term
func (p *Parser) parseTerm() (rdf.Term, error) {
	p.skipWhitespace()
	ch := p.peek()

	// IRI (named node)
	if ch == '<' {
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return rdf.NewNamedNode(iri), nil
	}

	// Literal (string)
	if ch == '"' || ch == '\'' {
		return p.parseStringLiteral()
	}

	// Blank node
	if ch == '_' {
		return p.parseBlankNode()
	}

	// Numeric literal
	if ch >= '0' && ch <= '9' || ch == '-' || ch == '+' {
		return p.parseNumericLiteral()
	}

	// 'a' keyword for rdf:type
	if ch == 'a' && !isNameChar(p.peekAt(1)) {
		p.advance()
		return rdf.NewNamedNode(rdfTypeIRI), nil
	}

	if p.matchKeyword("true") {
		return rdf.NewBooleanLiteral(true), nil
	}
	if p.matchKeyword("false") {
		return rdf.NewBooleanLiteral(false), nil
	}

	// Prefixed name
	if isNameChar(ch) || ch == ':' {
		return p.parsePrefixedName()
	}

	return nil, fmt.Errorf("unexpected character: %c", ch)
}

// parsePrefixedName parses prefix:local using the declared prefixes
func (p *Parser) parsePrefixedName() (rdf.Term, error) {
	prefix := p.readWhile(isNameChar)
	if p.peek() != ':' {
		return nil, fmt.Errorf("expected ':' in prefixed name %q", prefix)
	}
	p.advance()

	base, ok := p.prefixes[prefix]
	if !ok {
		return nil, fmt.Errorf("undeclared prefix %q", prefix)
	}

	local := p.readWhile(func(ch byte) bool {
		return isNameChar(ch) || ch == '.' || ch == '-'
	})

	return rdf.NewNamedNode(base + local), nil
}

// parseVariable parses a SPARQL variable
func (p *Parser) parseVariable() (*Variable, error) {
	p.skipWhitespace()
	if p.peek() != '?' && p.peek() != '$' {
		return nil, fmt.Errorf("expected variable starting with ? or $")
	}
	p.advance()

	name := p.readWhile(isNameChar)
	if name == "" {
		return nil, fmt.Errorf("invalid variable name")
	}

	return &Variable{Name: name}, nil
}

// parseIRI parses an IRI enclosed in < >
func (p *Parser) parseIRI() (string, error) {
	if p.peek() != '<' {
		return "", fmt.Errorf("expected '<' to start IRI")
	}
	p.advance()

	iri := p.readWhile(func(ch byte) bool {
		return ch != '>'
	})

	if p.peek() != '>' {
		return "", fmt.Errorf("expected '>' to end IRI")
	}
	p.advance()

	return iri, nil
}

// parseStringLiteral parses a string literal with optional language tag or
// datatype
func (p *Parser) parseStringLiteral() (*rdf.Literal, error) {
	quote := p.peek()
	if quote != '"' && quote != '\'' {
		return nil, fmt.Errorf("expected quote to start string literal")
	}
	p.advance()

	var sb strings.Builder
	for p.pos < p.length && p.peek() != quote {
		ch := p.peek()
		if ch == '\\' {
			p.advance()
			switch p.peek() {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '"', '\'':
				sb.WriteByte(p.peek())
			default:
				return nil, fmt.Errorf("invalid escape sequence \\%c", p.peek())
			}
			p.advance()
			continue
		}
		sb.WriteByte(ch)
		p.advance()
	}

	if p.peek() != quote {
		return nil, fmt.Errorf("expected quote to end string literal")
	}
	p.advance()

	value := sb.String()

	// language tag
	if p.peek() == '@' {
		p.advance()
		lang := p.readWhile(func(ch byte) bool {
			return isNameChar(ch) || ch == '-'
		})
		if lang == "" {
			return nil, fmt.Errorf("expected language tag after @")
		}
		return rdf.NewLiteralWithLanguage(value, lang), nil
	}

	// datatype
	if p.peek() == '^' && p.peekAt(1) == '^' {
		p.advance()
		p.advance()
		if p.peek() == '<' {
			iri, err := p.parseIRI()
			if err != nil {
				return nil, err
			}
			return rdf.NewLiteralWithDatatype(value, rdf.NewNamedNode(iri)), nil
		}
		dt, err := p.parsePrefixedName()
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(value, dt.(*rdf.NamedNode)), nil
	}

	return rdf.NewLiteral(value), nil
}

// parseBlankNode parses a blank node
func (p *Parser) parseBlankNode() (*rdf.BlankNode, error) {
	if p.peek() != '_' {
		return nil, fmt.Errorf("expected '_' to start blank node")
	}
	p.advance()

	if p.peek() != ':' {
		return nil, fmt.Errorf("expected ':' after '_' in blank node")
	}
	p.advance()

	id := p.readWhile(isNameChar)
	return rdf.NewBlankNode(id), nil
}

// parseNumericLiteral parses a numeric literal
func (p *Parser) parseNumericLiteral() (*rdf.Literal, error) {
	numStr := p.readWhile(func(ch byte) bool {
		return (ch >= '0' && ch <= '9') || ch == '.' || ch == '-' || ch == '+' || ch == 'e' || ch == 'E'
	})

	if !strings.ContainsAny(numStr, ".eE") {
		if _, err := strconv.ParseInt(numStr, 10, 64); err == nil {
			return rdf.NewLiteralWithDatatype(numStr, rdf.XSDInteger), nil
		}
	}

	if _, err := strconv.ParseFloat(numStr, 64); err != nil {
		return nil, fmt.Errorf("invalid numeric literal %q", numStr)
	}
	return rdf.NewLiteralWithDatatype(numStr, rdf.XSDDouble), nil
}

// parseFilter parses a FILTER constraint
func (p *Parser) parseFilter() (*Filter, error) {
	p.skipWhitespace()

	if p.matchKeyword("EXISTS") || p.matchKeyword("NOT") {
		return nil, incompatible("EXISTS / NOT EXISTS")
	}

	var expr Expression
	var err error
	if p.peek() == '(' {
		p.advance()
		expr, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("expected ')' to close FILTER")
		}
		p.advance()
	} else {
		// bare built-in call: FILTER regex(?x, "...")
		expr, err = p.parseUnary()
		if err != nil {
			return nil, err
		}
	}

	return &Filter{Expression: expr}, nil
}

// parseExpression parses an expression with || precedence lowest
func (p *Parser) parseExpression() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.matchOperator("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Operator: "||", Left: left, Right: right}
	}

	return left, nil
}

func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}

	for p.matchOperator("&&") {
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Operator: "&&", Left: left, Right: right}
	}

	return left, nil
}

func (p *Parser) parseRelational() (Expression, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	for _, op := range []string{"<=", ">=", "!=", "=", "<", ">"} {
		if p.matchOperator(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &BinaryExpression{Operator: op, Left: left, Right: right}, nil
		}
	}

	return left, nil
}

func (p *Parser) parseAdditive() (Expression, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for {
		if p.matchOperator("+") {
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpression{Operator: "+", Left: left, Right: right}
			continue
		}
		if p.matchOperator("-") {
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpression{Operator: "-", Left: left, Right: right}
			continue
		}
		break
	}

	return left, nil
}

func (p *Parser) parseMultiplicative() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		if p.matchOperator("*") {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpression{Operator: "*", Left: left, Right: right}
			continue
		}
		if p.matchOperator("/") {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpression{Operator: "/", Left: left, Right: right}
			continue
		}
		break
	}

	return left, nil
}

func (p *Parser) parseUnary() (Expression, error) {
	p.skipWhitespace()

	if p.matchOperator("!") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpression{Operator: "!", Operand: operand}, nil
	}
	if p.matchOperator("-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpression{Operator: "-", Operand: operand}, nil
	}

	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expression, error) {
	p.skipWhitespace()
	ch := p.peek()

	if ch == '(' {
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("expected ')' in expression")
		}
		p.advance()
		return expr, nil
	}

	if ch == '?' || ch == '$' {
		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		return &VariableExpression{Variable: variable}, nil
	}

	// built-in function call: name followed by '('
	if isAlpha(ch) {
		save := p.pos
		name := p.readWhile(isNameChar)
		p.skipWhitespace()
		if p.peek() == '(' {
			upper := strings.ToUpper(name)
			if upper == "EXISTS" {
				return nil, incompatible("EXISTS / NOT EXISTS")
			}
			return p.parseFunctionCall(upper)
		}
		p.pos = save
	}

	term, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return &LiteralExpression{Term: term}, nil
}

func (p *Parser) parseFunctionCall(name string) (Expression, error) {
	p.advance() // consume '('

	call := &FunctionCallExpression{Name: name}

	p.skipWhitespace()
	if p.peek() == ')' {
		p.advance()
		return call, nil
	}

	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		p.skipWhitespace()
		if p.peek() == ',' {
			p.advance()
			continue
		}
		if p.peek() == ')' {
			p.advance()
			return call, nil
		}
		return nil, fmt.Errorf("expected ',' or ')' in function call %s", name)
	}
}

// parseInteger parses a non-negative integer
func (p *Parser) parseInteger() (int64, error) {
	p.skipWhitespace()

	numStr := p.readWhile(func(ch byte) bool {
		return ch >= '0' && ch <= '9'
	})

	if numStr == "" {
		return 0, fmt.Errorf("expected integer")
	}

	return strconv.ParseInt(numStr, 10, 64)
}

// Helper methods

func (p *Parser) peek() byte {
	if p.pos >= p.length {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) peekAt(offset int) byte {
	if p.pos+offset >= p.length {
		return 0
	}
	return p.input[p.pos+offset]
}

func (p *Parser) advance() {
	if p.pos < p.length {
		p.pos++
	}
}

func (p *Parser) skipWhitespace() {
	for p.pos < p.length {
		ch := p.input[p.pos]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			p.pos++
			continue
		}
		// comments run to end of line
		if ch == '#' {
			for p.pos < p.length && p.input[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		break
	}
}

func (p *Parser) readWhile(predicate func(byte) bool) string {
	start := p.pos
	for p.pos < p.length && predicate(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *Parser) matchKeyword(keyword string) bool {
	p.skipWhitespace()

	// Case-insensitive match
	remaining := p.input[p.pos:]
	pattern := `(?i)^` + regexp.QuoteMeta(keyword) + `\b`
	matched, _ := regexp.MatchString(pattern, remaining)

	if matched {
		p.pos += len(keyword)
		return true
	}
	return false
}

func (p *Parser) matchOperator(op string) bool {
	p.skipWhitespace()

	if p.pos+len(op) > p.length || p.input[p.pos:p.pos+len(op)] != op {
		return false
	}
	// "=" must not match the front of "=" in "<=" (ordering of callers
	// handles multi-char first); "<" must not match "<=" here
	if (op == "<" || op == ">") && p.peekAt(1) == '=' {
		return false
	}
	// "!" must not match "!="
	if op == "!" && p.peekAt(1) == '=' {
		return false
	}
	p.pos += len(op)
	return true
}

func isNameChar(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') || ch == '_'
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func incompatible(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", stream.ErrIncompatibleQuery, fmt.Sprintf(format, args...))
}

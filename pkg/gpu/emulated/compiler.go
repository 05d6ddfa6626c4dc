package emulated

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The emulator compiles a restricted OpenCL C subset: element-wise int
// kernels whose work-items each touch only their own index.
//
//	__kernel void addVectors(__global const int* a, __global const int* b, __global int* c) {
//	    int i = get_global_id(0);
//	    c[i] = a[i] + b[i];
//	}
//
// Supported inside a kernel body: one work-item id declaration, if-guards
// (with return or a guarded statement/block), assignments (=, +=, -=, *=) to
// buffer[id], and expressions over buffer[id], scalar int parameters, the id,
// integer literals, -D macros, casts to integer types, + - * and parentheses.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// compileError is one diagnostic of a failed build.
type compileError struct {
	line int
	col  int
	msg  string
}

func (e *compileError) Error() string {
	return fmt.Sprintf("<program source>:%d:%d: error: %s", e.line, e.col, e.msg)
}

func errorAt(t token, format string, args ...any) *compileError {
	return &compileError{line: t.line, col: t.col, msg: fmt.Sprintf(format, args...)}
}

var twoCharPuncts = []string{"<=", ">=", "==", "!=", "+=", "-=", "*=", "/=", "&&", "||", "++", "--", "<<", ">>"}

func lex(src string) ([]token, error) {
	var toks []token
	line, col := 1, 1
	i := 0

	advance := func(n int) {
		for k := 0; k < n && i < len(src); k++ {
			if src[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}

	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == '\v':
			advance(1)
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				advance(1)
			}
		case strings.HasPrefix(src[i:], "/*"):
			startLine, startCol := line, col
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &compileError{line: startLine, col: startCol, msg: "unterminated /* comment"}
			}
			advance(end + 4)
		case c == '#':
			// Preprocessor directives (#pragma, #include guards) are ignored.
			for i < len(src) && src[i] != '\n' {
				advance(1)
			}
		case isIdentStart(c):
			start, l, cl := i, line, col
			for i < len(src) && isIdentPart(src[i]) {
				advance(1)
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], line: l, col: cl})
		case c >= '0' && c <= '9':
			start, l, cl := i, line, col
			for i < len(src) && (isIdentPart(src[i])) {
				advance(1)
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], line: l, col: cl})
		default:
			l, cl := line, col
			text := string(c)
			for _, p := range twoCharPuncts {
				if strings.HasPrefix(src[i:], p) {
					text = p
					break
				}
			}
			if len(text) == 1 && !strings.ContainsRune("(){}[],;=+-*/%<>!&|^~?:.", rune(c)) {
				return nil, &compileError{line: l, col: cl, msg: fmt.Sprintf("unexpected character %q", c)}
			}
			advance(len(text))
			toks = append(toks, token{kind: tokPunct, text: text, line: l, col: cl})
		}
	}
	toks = append(toks, token{kind: tokEOF, line: line, col: col})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// parseNumber parses an integer literal with optional u/U/l/L suffixes.
func parseNumber(t token) (int64, error) {
	text := strings.TrimRight(t.text, "uUlL")
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		if u, uerr := strconv.ParseUint(text, 0, 64); uerr == nil {
			return int64(u), nil
		}
		return 0, errorAt(t, "invalid integer literal %q", t.text)
	}
	return v, nil
}

type paramKind int

const (
	paramBuffer paramKind = iota
	paramScalar
)

type param struct {
	name     string
	kind     paramKind
	readOnly bool
	unsigned bool
}

type kernelDef struct {
	name   string
	params []param
	gid    string
	body   []stmt
}

func (k *kernelDef) paramIndex(name string) int {
	for i, p := range k.params {
		if p.name == name {
			return i
		}
	}
	return -1
}

type stmt interface{}

type assignStmt struct {
	target int
	op     byte // '=', '+', '-', '*'
	value  expr
}

type ifStmt struct {
	cond cond
	then []stmt
}

type returnStmt struct{}

type cond struct {
	op          string
	left, right expr
}

// Expressions have type int or uint. eval returns the value already
// wrapped to 32 bits: int values in int32 range, uint values in uint32 range.
type expr interface {
	eval(w *workItem) int64
	unsigned() bool
}

type numExpr struct {
	v int64
	u bool
}

type gidExpr struct{}

type loadExpr struct {
	param int
	u     bool
}

type scalarExpr struct {
	param int
	u     bool
}

type negExpr struct{ x expr }

type castExpr struct {
	x expr
	u bool
}

type binExpr struct {
	op   byte
	l, r expr
}

type parser struct {
	toks    []token
	pos     int
	defines map[string]int64
	k       *kernelDef
}

// compile parses src into its kernels, keyed by name.
func compile(src string, defines map[string]int64) (map[string]*kernelDef, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, defines: defines}
	kernels := make(map[string]*kernelDef)
	for p.peek().kind != tokEOF {
		k, err := p.parseKernel()
		if err != nil {
			return nil, err
		}
		if _, dup := kernels[k.name]; dup {
			return nil, fmt.Errorf("<program source>: error: redefinition of kernel %q", k.name)
		}
		kernels[k.name] = k
	}
	if len(kernels) == 0 {
		return nil, fmt.Errorf("<program source>: error: program defines no kernels")
	}
	return kernels, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(text string) bool {
	if t := p.peek(); t.kind != tokEOF && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) (token, error) {
	t := p.next()
	if t.text != text || t.kind == tokEOF {
		if t.kind == tokEOF {
			return t, errorAt(t, "expected '%s' at end of input", text)
		}
		return t, errorAt(t, "expected '%s', found '%s'", text, t.text)
	}
	return t, nil
}

func (p *parser) ident() (token, error) {
	t := p.next()
	if t.kind != tokIdent {
		return t, errorAt(t, "expected identifier, found '%s'", t.text)
	}
	return t, nil
}

func (p *parser) parseKernel() (*kernelDef, error) {
	t := p.next()
	if t.text != "__kernel" && t.text != "kernel" {
		return nil, errorAt(t, "unsupported top-level declaration starting with '%s' (only __kernel functions are supported)", t.text)
	}
	if _, err := p.expect("void"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	p.k = &kernelDef{name: name.text}

	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	if err := p.parseParams(); err != nil {
		return nil, err
	}
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	for !p.accept("}") {
		if p.peek().kind == tokEOF {
			return nil, errorAt(p.peek(), "expected '}' at end of kernel %q", p.k.name)
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		p.k.body = append(p.k.body, s...)
	}
	return p.k, nil
}

func (p *parser) parseParams() error {
	if p.accept(")") {
		return nil
	}
	if p.peek().text == "void" && p.toks[p.pos+1].text == ")" {
		p.pos += 2
		return nil
	}
	for {
		prm, err := p.parseParam()
		if err != nil {
			return err
		}
		if p.k.paramIndex(prm.name) >= 0 {
			return fmt.Errorf("<program source>: error: redefinition of parameter %q", prm.name)
		}
		p.k.params = append(p.k.params, prm)
		if p.accept(")") {
			return nil
		}
		if _, err := p.expect(","); err != nil {
			return err
		}
	}
}

func (p *parser) parseParam() (param, error) {
	var (
		addrSpace string
		isConst   bool
		elemType  string
		unsigned  bool
		pointer   bool
	)
	start := p.peek()
	for {
		t := p.peek()
		if t.kind == tokPunct && t.text == "*" {
			if pointer {
				return param{}, errorAt(t, "pointer-to-pointer parameters are not supported")
			}
			pointer = true
			p.pos++
			continue
		}
		if t.kind != tokIdent {
			return param{}, errorAt(t, "expected parameter name, found '%s'", t.text)
		}
		switch t.text {
		case "__global", "global":
			addrSpace = "global"
		case "__constant", "constant":
			addrSpace = "constant"
			isConst = true
		case "__local", "local", "__private", "private":
			return param{}, errorAt(t, "%s parameters are not supported", strings.TrimPrefix(t.text, "__"))
		case "const":
			if !pointer {
				isConst = true
			}
		case "restrict", "__restrict", "volatile":
		case "unsigned", "signed":
			elemType = "int"
			unsigned = t.text == "unsigned"
			if next := p.toks[p.pos+1]; next.text == "int" {
				p.pos++
			}
		case "int":
			elemType = "int"
		case "uint":
			elemType = "int"
			unsigned = true
		case "char", "uchar", "short", "ushort", "long", "ulong", "float", "double", "half", "size_t", "bool":
			return param{}, errorAt(t, "unsupported element type '%s' (only int is supported)", t.text)
		default:
			if elemType == "" {
				return param{}, errorAt(t, "unknown type name '%s'", t.text)
			}
			p.pos++
			prm, err := p.finishParam(t, start, addrSpace, isConst, pointer)
			prm.unsigned = unsigned
			return prm, err
		}
		p.pos++
	}
}

func (p *parser) finishParam(name, start token, addrSpace string, isConst, pointer bool) (param, error) {
	if pointer {
		if addrSpace == "" {
			return param{}, errorAt(start, "pointer parameter '%s' must be declared __global or __constant", name.text)
		}
		return param{name: name.text, kind: paramBuffer, readOnly: isConst}, nil
	}
	if addrSpace != "" {
		return param{}, errorAt(start, "parameter '%s' may not be qualified with an address space", name.text)
	}
	return param{name: name.text, kind: paramScalar, readOnly: true}, nil
}

var integerTypes = map[string]bool{
	"int": true, "uint": true, "unsigned": true, "signed": true, "size_t": true,
	"long": true, "ulong": true, "const": true,
}

func (p *parser) parseStmt() ([]stmt, error) {
	t := p.peek()
	switch {
	case t.text == "{":
		p.pos++
		var out []stmt
		for !p.accept("}") {
			if p.peek().kind == tokEOF {
				return nil, errorAt(p.peek(), "expected '}'")
			}
			s, err := p.parseStmt()
			if err != nil {
				return nil, err
			}
			out = append(out, s...)
		}
		return out, nil
	case t.text == ";":
		p.pos++
		return nil, nil
	case t.kind == tokIdent && t.text == "if":
		return p.parseIf()
	case t.kind == tokIdent && t.text == "return":
		p.pos++
		if _, err := p.expect(";"); err != nil {
			return nil, err
		}
		return []stmt{returnStmt{}}, nil
	case t.kind == tokIdent && integerTypes[t.text]:
		return nil, p.parseDecl()
	case t.kind == tokIdent:
		s, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return []stmt{s}, nil
	}
	return nil, errorAt(t, "expected statement, found '%s'", t.text)
}

func (p *parser) parseDecl() error {
	for p.peek().kind == tokIdent && integerTypes[p.peek().text] {
		p.pos++
		if p.peek().text == "int" {
			p.pos++
		}
	}
	name, err := p.ident()
	if err != nil {
		return err
	}
	if p.k.gid != "" {
		return errorAt(name, "only one work-item id variable is supported (already declared '%s')", p.k.gid)
	}
	if p.k.paramIndex(name.text) >= 0 {
		return errorAt(name, "declaration of '%s' shadows a kernel parameter", name.text)
	}
	if _, err := p.expect("="); err != nil {
		return err
	}
	if err := p.parseGlobalID(); err != nil {
		return err
	}
	if _, err := p.expect(";"); err != nil {
		return err
	}
	p.k.gid = name.text
	return nil
}

// parseGlobalID consumes get_global_id(0).
func (p *parser) parseGlobalID() error {
	t, err := p.ident()
	if err != nil {
		return err
	}
	if t.text != "get_global_id" {
		return errorAt(t, "unsupported initializer '%s' (only get_global_id(0) is supported)", t.text)
	}
	if _, err := p.expect("("); err != nil {
		return err
	}
	dim := p.next()
	if dim.kind != tokNumber {
		return errorAt(dim, "expected dimension index, found '%s'", dim.text)
	}
	if v, err := parseNumber(dim); err != nil || v != 0 {
		return errorAt(dim, "only 1-dimensional ranges are supported")
	}
	_, err = p.expect(")")
	return err
}

func (p *parser) parseIf() ([]stmt, error) {
	p.pos++
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	opTok := p.next()
	switch opTok.text {
	case "<", "<=", ">", ">=", "==", "!=":
	default:
		return nil, errorAt(opTok, "expected comparison operator, found '%s'", opTok.text)
	}
	right, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	then, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.text == "else" {
		return nil, errorAt(t, "else branches are not supported")
	}
	return []stmt{ifStmt{cond: cond{op: opTok.text, left: left, right: right}, then: then}}, nil
}

func (p *parser) parseAssign() (stmt, error) {
	name := p.next()
	idx := p.k.paramIndex(name.text)
	if idx < 0 {
		if name.text == p.k.gid {
			return nil, errorAt(name, "cannot assign to the work-item id '%s'", name.text)
		}
		return nil, errorAt(name, "use of undeclared identifier '%s'", name.text)
	}
	prm := p.k.params[idx]
	if prm.kind != paramBuffer {
		return nil, errorAt(name, "cannot assign to kernel parameter '%s'", name.text)
	}
	if prm.readOnly {
		return nil, errorAt(name, "read-only variable '%s' is not assignable", name.text)
	}
	if err := p.parseIndex(); err != nil {
		return nil, err
	}
	opTok := p.next()
	var op byte
	switch opTok.text {
	case "=":
		op = '='
	case "+=", "-=", "*=":
		op = opTok.text[0]
	default:
		return nil, errorAt(opTok, "expected assignment operator, found '%s'", opTok.text)
	}
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	return assignStmt{target: idx, op: op, value: value}, nil
}

// parseIndex consumes [id] where id is the work-item id variable or a
// direct get_global_id(0) call.
func (p *parser) parseIndex() error {
	if _, err := p.expect("["); err != nil {
		return err
	}
	t := p.peek()
	switch {
	case t.kind == tokIdent && t.text == "get_global_id":
		if err := p.parseGlobalID(); err != nil {
			return err
		}
	case t.kind == tokIdent && t.text == p.k.gid && p.k.gid != "":
		p.pos++
	default:
		return errorAt(t, "buffer index must be the work-item id")
	}
	_, err := p.expect("]")
	return err
}

func (p *parser) parseExpr() (expr, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct || (t.text != "+" && t.text != "-") {
			return l, nil
		}
		p.pos++
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = binExpr{op: t.text[0], l: l, r: r}
	}
}

func (p *parser) parseTerm() (expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct {
			return l, nil
		}
		switch t.text {
		case "*":
		case "/", "%", "&", "|", "^", "<<", ">>":
			return nil, errorAt(t, "unsupported operator '%s'", t.text)
		default:
			return l, nil
		}
		p.pos++
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binExpr{op: '*', l: l, r: r}
	}
}

func (p *parser) parseUnary() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := parseNumber(t)
		if err != nil {
			return nil, err
		}
		return literal(v, strings.ContainsAny(t.text, "uU")), nil
	case tokIdent:
		return p.parseIdentExpr(t)
	case tokPunct:
		switch t.text {
		case "-":
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return negExpr{x: x}, nil
		case "+":
			return p.parseUnary()
		case "(":
			if n := p.peek(); n.kind == tokIdent && integerTypes[n.text] {
				// 64-bit casts keep the operand unchanged.
				var cast, u, wide bool
				for p.peek().kind == tokIdent && integerTypes[p.peek().text] {
					switch p.next().text {
					case "int", "signed":
						cast = true
					case "uint", "unsigned":
						cast, u = true, true
					case "long", "ulong", "size_t":
						wide = true
					}
				}
				if _, err := p.expect(")"); err != nil {
					return nil, err
				}
				x, err := p.parseUnary()
				if err != nil || !cast || wide {
					return x, err
				}
				return castExpr{x: x, u: u}, nil
			}
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	case tokEOF:
		return nil, errorAt(t, "expected expression at end of input")
	}
	return nil, errorAt(t, "expected expression, found '%s'", t.text)
}

func (p *parser) parseIdentExpr(t token) (expr, error) {
	if t.text == "get_global_id" {
		p.pos--
		if err := p.parseGlobalID(); err != nil {
			return nil, err
		}
		return gidExpr{}, nil
	}
	if t.text == p.k.gid && p.k.gid != "" {
		return gidExpr{}, nil
	}
	if idx := p.k.paramIndex(t.text); idx >= 0 {
		prm := p.k.params[idx]
		if prm.kind == paramScalar {
			return scalarExpr{param: idx, u: prm.unsigned}, nil
		}
		if p.peek().text != "[" {
			return nil, errorAt(t, "pointer parameter '%s' must be indexed", t.text)
		}
		if err := p.parseIndex(); err != nil {
			return nil, err
		}
		return loadExpr{param: idx, u: prm.unsigned}, nil
	}
	if v, ok := p.defines[t.text]; ok {
		return literal(v, false), nil
	}
	return nil, errorAt(t, "use of undeclared identifier '%s'", t.text)
}

// workItem is the execution state of one work-item.
type workItem struct {
	gid   int
	args  []arg
	fault bool
}

// literal types a constant the way C does for 32-bit targets: a u suffix or
// a value above INT_MAX that fits in 32 bits makes it uint.
func literal(v int64, suffix bool) numExpr {
	u := suffix || (v > math.MaxInt32 && v <= math.MaxUint32)
	return numExpr{v: wrap32(v, u), u: u}
}

// wrap32 reduces v modulo 2^32 into the range of int or uint.
func wrap32(v int64, u bool) int64 {
	if u {
		return int64(uint32(v))
	}
	return int64(int32(v))
}

func (e numExpr) eval(*workItem) int64 { return e.v }
func (e numExpr) unsigned() bool { return e.u }

func (gidExpr) eval(w *workItem) int64 { return int64(w.gid) }
func (gidExpr) unsigned() bool { return false }

func (e loadExpr) eval(w *workItem) int64 {
	data := w.args[e.param].buf.data
	if w.gid >= len(data) {
		w.fault = true
		return 0
	}
	return wrap32(int64(data[w.gid]), e.u)
}
func (e loadExpr) unsigned() bool { return e.u }

func (e scalarExpr) eval(w *workItem) int64 {
	return wrap32(int64(w.args[e.param].scalar), e.u)
}
func (e scalarExpr) unsigned() bool { return e.u }

func (e negExpr) eval(w *workItem) int64 { return wrap32(-e.x.eval(w), e.unsigned()) }
func (e negExpr) unsigned() bool { return e.x.unsigned() }

func (e castExpr) eval(w *workItem) int64 { return wrap32(e.x.eval(w), e.u) }
func (e castExpr) unsigned() bool { return e.u }

// An int operand meeting a uint operand is converted to uint.
func (e binExpr) eval(w *workItem) int64 {
	l, r := e.l.eval(w), e.r.eval(w)
	var v int64
	switch e.op {
	case '+':
		v = l + r
	case '-':
		v = l - r
	default:
		v = l * r
	}
	return wrap32(v, e.unsigned())
}
func (e binExpr) unsigned() bool { return e.l.unsigned() || e.r.unsigned() }

func (c cond) holds(w *workItem) bool {
	l, r := c.left.eval(w), c.right.eval(w)
	if c.left.unsigned() || c.right.unsigned() {
		l, r = int64(uint32(l)), int64(uint32(r))
	}
	switch c.op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "==":
		return l == r
	default:
		return l != r
	}
}

// exec runs stmts for one work-item and reports whether it returned.
func exec(stmts []stmt, w *workItem) bool {
	for _, s := range stmts {
		switch s := s.(type) {
		case returnStmt:
			return true
		case ifStmt:
			if s.cond.holds(w) && exec(s.then, w) {
				return true
			}
		case assignStmt:
			data := w.args[s.target].buf.data
			if w.gid >= len(data) {
				w.fault = true
				return true
			}
			v := s.value.eval(w)
			if w.fault {
				return true
			}
			switch s.op {
			case '+':
				v = int64(data[w.gid]) + v
			case '-':
				v = int64(data[w.gid]) - v
			case '*':
				v = int64(data[w.gid]) * v
			}
			// Stores wrap at 32 bits for int and uint alike.
			data[w.gid] = int32(v)
		}
		if w.fault {
			return true
		}
	}
	return false
}

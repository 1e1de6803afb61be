// Package parser turns lattice source text into an ast.Module.
//
// The language is a small indentation-structured module language: imports,
// typed top-level variables, functions with typed signatures, and classes
// with attributes and methods. Parsing is line- and regex-based; the parser
// records every import with its line number and classifies body references
// for the later analysis passes.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/diag"
)

// Parser parses lattice source files.
type Parser struct {
	defRegex    *regexp.Regexp
	classRegex  *regexp.Regexp
	importRegex *regexp.Regexp
	fromRegex   *regexp.Regexp
	attrRegex   *regexp.Regexp
	assignRegex *regexp.Regexp
	callRegex   *regexp.Regexp
	binopRegex  *regexp.Regexp
	nameRegex   *regexp.Regexp
}

// New creates a parser.
func New() *Parser {
	return &Parser{
		defRegex:    regexp.MustCompile(`^def\s+(\w+)\s*\(([^)]*)\)\s*(?:->\s*([\w.]+))?\s*:$`),
		classRegex:  regexp.MustCompile(`^class\s+(\w+)\s*(?:\(([^)]*)\))?\s*:$`),
		importRegex: regexp.MustCompile(`^import\s+([\w.]+)$`),
		fromRegex:   regexp.MustCompile(`^from\s+(\.*)([\w.]*)\s+import\s+([\w,\s]+)$`),
		attrRegex:   regexp.MustCompile(`^(\w+)\s*:\s*([\w.]+)\s*(?:=\s*.+)?$`),
		assignRegex: regexp.MustCompile(`^(\w+)\s*=\s*(.+)$`),
		callRegex:   regexp.MustCompile(`([A-Za-z_][\w.]*)\s*\(([^()]*)\)`),
		binopRegex:  regexp.MustCompile(`([A-Za-z_][\w.]*)\s*([+\-*/])\s*([A-Za-z_][\w.]*)`),
		nameRegex:   regexp.MustCompile(`[A-Za-z_][\w.]*`),
	}
}

// keywords are names the reference scanner never reports.
var keywords = map[string]bool{
	"return": true,
	"pass":   true,
	"self":   false, // kept: attribute access on self is meaningful
	"if":     true,
	"else":   true,
	"while":  true,
	"for":    true,
	"in":     true,
	"not":    true,
	"and":    true,
	"or":     true,
	"none":   true,
}

// Parse parses one module. It always returns a module (possibly partial)
// plus the diagnostics produced; a syntax failure is reported as a blocking
// diagnostic.
func (p *Parser) Parse(id, path string, src []byte) (*ast.Module, []diag.Diagnostic) {
	m := &ast.Module{ID: id, Path: path}
	var diags []diag.Diagnostic

	var curClass *ast.ClassDef
	var curFunc *ast.FuncDef

	lines := strings.Split(string(src), "\n")
	for i, raw := range lines {
		lineNum := i + 1
		line := stripComment(raw)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "pass" {
			continue
		}
		depth := indentDepth(line)

		if depth == 0 {
			curClass, curFunc = nil, nil

			switch {
			case strings.HasPrefix(trimmed, "import ") || trimmed == "import":
				mm := p.importRegex.FindStringSubmatch(trimmed)
				if mm == nil {
					diags = append(diags, syntaxError(path, lineNum, "invalid import statement"))
					continue
				}
				m.Imports = append(m.Imports, ast.Import{Module: mm[1], Line: lineNum})

			case strings.HasPrefix(trimmed, "from ") || trimmed == "from":
				mm := p.fromRegex.FindStringSubmatch(trimmed)
				if mm == nil {
					diags = append(diags, syntaxError(path, lineNum, "invalid import statement"))
					continue
				}
				imp := ast.Import{Module: mm[2], Dots: len(mm[1]), Line: lineNum}
				for _, n := range strings.Split(mm[3], ",") {
					if n = strings.TrimSpace(n); n != "" {
						imp.Names = append(imp.Names, n)
					}
				}
				if imp.Dots == 0 && imp.Module == "" {
					diags = append(diags, syntaxError(path, lineNum, "invalid import statement"))
					continue
				}
				m.Imports = append(m.Imports, imp)

			case strings.HasPrefix(trimmed, "def ") || trimmed == "def":
				fn, err := p.parseDef(trimmed, lineNum, "")
				if err != "" {
					diags = append(diags, syntaxError(path, lineNum, err))
					continue
				}
				m.Funcs = append(m.Funcs, fn)
				curFunc = fn

			case strings.HasPrefix(trimmed, "class ") || trimmed == "class":
				mm := p.classRegex.FindStringSubmatch(trimmed)
				if mm == nil {
					diags = append(diags, syntaxError(path, lineNum, "invalid class definition"))
					continue
				}
				cls := &ast.ClassDef{Name: mm[1], Line: lineNum}
				for _, b := range strings.Split(mm[2], ",") {
					if b = strings.TrimSpace(b); b != "" {
						cls.Bases = append(cls.Bases, b)
					}
				}
				m.Classes = append(m.Classes, cls)
				curClass = cls

			default:
				if mm := p.attrRegex.FindStringSubmatch(trimmed); mm != nil {
					m.Vars = append(m.Vars, ast.Param{Name: mm[1], Type: mm[2]})
					continue
				}
				m.TopLevel = append(m.TopLevel, p.parseBodyLine(trimmed, lineNum)...)
			}
			continue
		}

		// Indented line.
		switch {
		case curClass != nil && curFunc == nil && depth == 1:
			if strings.HasPrefix(trimmed, "def ") {
				fn, err := p.parseDef(trimmed, lineNum, curClass.Name)
				if err != "" {
					diags = append(diags, syntaxError(path, lineNum, err))
					continue
				}
				curClass.Methods = append(curClass.Methods, fn)
				curFunc = fn
				continue
			}
			if mm := p.attrRegex.FindStringSubmatch(trimmed); mm != nil {
				curClass.Attrs = append(curClass.Attrs, ast.Param{Name: mm[1], Type: mm[2]})
				continue
			}
			diags = append(diags, syntaxError(path, lineNum, "invalid class member"))

		case curClass != nil && curFunc != nil && depth == 1:
			// Dedent back to class body.
			curFunc = nil
			if strings.HasPrefix(trimmed, "def ") {
				fn, err := p.parseDef(trimmed, lineNum, curClass.Name)
				if err != "" {
					diags = append(diags, syntaxError(path, lineNum, err))
					continue
				}
				curClass.Methods = append(curClass.Methods, fn)
				curFunc = fn
				continue
			}
			if mm := p.attrRegex.FindStringSubmatch(trimmed); mm != nil {
				curClass.Attrs = append(curClass.Attrs, ast.Param{Name: mm[1], Type: mm[2]})
				continue
			}
			diags = append(diags, syntaxError(path, lineNum, "invalid class member"))

		case curFunc != nil:
			curFunc.Body = append(curFunc.Body, p.parseBodyLine(trimmed, lineNum)...)

		default:
			diags = append(diags, syntaxError(path, lineNum, "unexpected indentation"))
		}
	}

	return m, diags
}

func (p *Parser) parseDef(trimmed string, line int, class string) (*ast.FuncDef, string) {
	mm := p.defRegex.FindStringSubmatch(trimmed)
	if mm == nil {
		return nil, "invalid function definition"
	}
	fn := &ast.FuncDef{
		Name:       mm[1],
		ClassName:  class,
		ReturnType: mm[3],
		Line:       line,
	}
	if fn.ReturnType == "" {
		fn.ReturnType = "none"
	}
	for _, param := range strings.Split(mm[2], ",") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		name, typ := param, "any"
		if idx := strings.Index(param, ":"); idx >= 0 {
			name = strings.TrimSpace(param[:idx])
			typ = strings.TrimSpace(param[idx+1:])
		}
		if name == "self" && class != "" {
			continue
		}
		fn.Params = append(fn.Params, ast.Param{Name: name, Type: typ})
	}
	return fn, ""
}

// parseBodyLine extracts the references on one statement line.
func (p *Parser) parseBodyLine(trimmed string, line int) []ast.Ref {
	var refs []ast.Ref

	assignee := ""
	expr := trimmed
	if mm := p.assignRegex.FindStringSubmatch(trimmed); mm != nil && !strings.Contains(mm[1], ".") {
		assignee = mm[1]
		expr = mm[2]
	}
	expr = strings.TrimPrefix(expr, "return ")

	consumed := make([]bool, len(expr))

	// Calls first so their callee names are not double-reported as reads.
	for _, loc := range p.callRegex.FindAllStringSubmatchIndex(expr, -1) {
		name := expr[loc[2]:loc[3]]
		argText := expr[loc[4]:loc[5]]
		ref := ast.Ref{Kind: ast.RefCall, Name: name, Line: line, Assignee: assignee}
		for _, arg := range strings.Split(argText, ",") {
			arg = strings.TrimSpace(arg)
			if arg == "" {
				continue
			}
			ref.Args = append(ref.Args, classifyArg(arg))
		}
		refs = append(refs, ref)
		for i := loc[2]; i < loc[3]; i++ {
			consumed[i] = true
		}
	}

	for _, loc := range p.binopRegex.FindAllStringSubmatchIndex(expr, -1) {
		refs = append(refs, ast.Ref{
			Kind:     ast.RefBinOp,
			Name:     expr[loc[2]:loc[3]],
			Op:       expr[loc[4]:loc[5]],
			RHS:      expr[loc[6]:loc[7]],
			Line:     line,
			Assignee: assignee,
		})
		for i := loc[2]; i < loc[7]; i++ {
			consumed[i] = true
		}
	}

	// Only a bare "x = y" assignment propagates the assignee to a read;
	// reads nested in a larger expression must not rebind it.
	readAssignee := assignee
	if len(refs) > 0 || !plainNameRegex.MatchString(strings.TrimSpace(expr)) {
		readAssignee = ""
	}
	for _, loc := range p.nameRegex.FindAllStringIndex(expr, -1) {
		if consumed[loc[0]] {
			continue
		}
		name := expr[loc[0]:loc[1]]
		base := name
		if idx := strings.Index(name, "."); idx >= 0 {
			base = name[:idx]
		}
		if skip, ok := keywords[base]; ok && skip {
			continue
		}
		refs = append(refs, ast.Ref{Kind: ast.RefRead, Name: name, Line: line, Assignee: readAssignee})
	}

	return refs
}

var plainNameRegex = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)

func classifyArg(arg string) string {
	if _, err := strconv.Atoi(arg); err == nil {
		return "int"
	}
	if len(arg) >= 2 && (arg[0] == '"' || arg[0] == '\'') {
		return "str"
	}
	if plainNameRegex.MatchString(arg) {
		return "name:" + arg
	}
	return "unknown"
}

func stripComment(line string) string {
	if idx := strings.Index(line, "#"); idx >= 0 {
		return line[:idx]
	}
	return line
}

// indentDepth returns the indentation depth in levels of four spaces; a tab
// counts as one level.
func indentDepth(line string) int {
	spaces := 0
	levels := 0
	for _, r := range line {
		if r == ' ' {
			spaces++
			if spaces == 4 {
				levels++
				spaces = 0
			}
			continue
		}
		if r == '\t' {
			levels++
			spaces = 0
			continue
		}
		break
	}
	return levels
}

func syntaxError(path string, line int, msg string) diag.Diagnostic {
	return diag.Diagnostic{
		File:     path,
		Line:     line,
		Severity: diag.SeverityBlocking,
		Message:  "syntax error: " + msg,
	}
}

/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package policy implements the PolicyValidator (spec.md §4.4): a
// syntactic, pre-execution rejection pass over a queued program's AST,
// walked via goja's own parser so a violation never reaches the interpreter.
package policy

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// Rule identifies which check a Violation tripped.
type Rule string

const (
	RuleGlobalRebind    Rule = "global_rebind"
	RuleDunderAttribute Rule = "dunder_attribute"
	RuleBannedName      Rule = "banned_name"
	RuleBannedModule    Rule = "banned_module"
	RuleSyntax          Rule = "syntax"
)

// Violation is one rejected construct.
type Violation struct {
	Rule    Rule
	Message string
	Line    int
	Col     int
}

// Error aggregates every violation found in one program.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		if v.Line == 0 {
			parts[i] = v.Message
			continue
		}
		parts[i] = fmt.Sprintf("%s at %d:%d", v.Message, v.Line, v.Col)
	}
	return strings.Join(parts, "; ")
}

// bannedNames are identifiers that reach outside the sandboxed surface:
// interpreter entry points, filesystem, network and process primitives.
// The program language has no import/require statement at all (goja does
// not parse bare `import` outside module mode), so naming the would-be
// entry points here is what stands in for original_source's banned-module
// list.
var bannedNames = map[string]bool{
	"eval": true, "Function": true, "require": true, "import": true,
	"process": true, "global": true, "globalThis": true,
	"__dirname": true, "__filename": true,
}

var bannedModules = map[string]bool{
	"fs": true, "net": true, "child_process": true, "os": true,
	"http": true, "https": true, "dgram": true, "vm": true, "cluster": true,
}

// AllowedBuiltins is the curated global surface a step runs against, beyond
// the injected context/state/tool bindings.
var AllowedBuiltins = map[string]bool{
	"Array": true, "Object": true, "String": true, "Number": true,
	"Boolean": true, "Math": true, "JSON": true, "Map": true, "Set": true,
	"parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"console": true, "undefined": true, "NaN": true, "Infinity": true,
}

// ambientGlobals enumerates every identifier a fresh goja.Runtime installs
// on its global object by default, whether or not it is enumerable. The
// ban-list above only rejects a handful of these by name in source; this is
// the other half of the capability restriction in spec.md §9 — everything
// goja exposes that AllowedBuiltins does not name gets deleted from the
// running VM itself, so a program cannot reach it even indirectly (e.g.
// through a bracket expression the AST walker does not resolve statically).
var ambientGlobals = []string{
	"Function", "Date", "RegExp",
	"Error", "TypeError", "RangeError", "ReferenceError", "SyntaxError", "EvalError", "URIError",
	"Symbol", "WeakMap", "WeakSet", "Promise", "Proxy", "Reflect",
	"ArrayBuffer", "SharedArrayBuffer", "DataView",
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array",
	"eval", "encodeURI", "decodeURI", "encodeURIComponent", "decodeURIComponent", "escape", "unescape",
	"globalThis",
}

// nonDeterministicMembers names members of otherwise-allowed builtins that
// still violate the "no wall-clock time, no system randomness" contract.
// Math stays reachable for Math.floor/abs/etc, but Math.random is stripped.
var nonDeterministicMembers = map[string][]string{
	"Math": {"random"},
}

// PruneGlobals deletes every ambientGlobals entry not covered by
// AllowedBuiltins or bound (the executor's own context/state/tool/console
// bindings), then strips the non-deterministic members of whatever allowed
// builtins remain. It must run after every binding is installed and before
// RunString, or a later vm.Set of a bound name would re-suppress the
// deletion and a program would still observe the ambient global.
func PruneGlobals(vm *goja.Runtime, bound ...string) error {
	allowed := make(map[string]bool, len(AllowedBuiltins)+len(bound))
	for name := range AllowedBuiltins {
		allowed[name] = true
	}
	for _, name := range bound {
		allowed[name] = true
	}

	for _, name := range ambientGlobals {
		if allowed[name] {
			continue
		}
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("pruning global %s: %w", name, err)
		}
	}

	for parent, members := range nonDeterministicMembers {
		if !allowed[parent] {
			continue
		}
		v := vm.Get(parent)
		if v == nil || goja.IsUndefined(v) {
			continue
		}
		obj := v.ToObject(vm)
		for _, member := range members {
			if err := obj.Set(member, goja.Undefined()); err != nil {
				return fmt.Errorf("pruning %s.%s: %w", parent, member, err)
			}
		}
	}
	return nil
}

// ValidateSource parses source and walks the resulting AST, returning an
// *Error aggregating every violation, or nil if the program is clean.
func ValidateSource(source string) error {
	program, err := parser.ParseFile(nil, "", source, 0)
	if err != nil {
		return &Error{Violations: []Violation{{Rule: RuleSyntax, Message: err.Error()}}}
	}
	w := &walker{file: program.File}
	w.walkStatements(program.Body)
	if len(w.violations) > 0 {
		return &Error{Violations: w.violations}
	}
	return nil
}

type walker struct {
	violations []Violation
	file       *file.File
}

func (w *walker) report(rule Rule, message string, idx ast.Idx) {
	var line, col int
	if w.file != nil {
		if pos := w.file.Position(idx); pos != nil {
			line, col = pos.Line, pos.Column
		}
	}
	w.violations = append(w.violations, Violation{Rule: rule, Message: message, Line: line, Col: col})
}

func (w *walker) walkStatements(stmts []ast.Statement) {
	for _, s := range stmts {
		w.walkStatement(s)
	}
}

func (w *walker) walkStatement(s ast.Statement) {
	switch n := s.(type) {
	case nil:
		return
	case *ast.ExpressionStatement:
		w.walkExpression(n.Expression)
	case *ast.BlockStatement:
		w.walkStatements(n.List)
	case *ast.IfStatement:
		w.walkExpression(n.Test)
		w.walkStatement(n.Consequent)
		if n.Alternate != nil {
			w.walkStatement(n.Alternate)
		}
	case *ast.ForStatement:
		w.walkStatement(n.Body)
	case *ast.ForInStatement:
		w.walkStatement(n.Body)
	case *ast.ForOfStatement:
		w.walkStatement(n.Body)
	case *ast.WhileStatement:
		w.walkExpression(n.Test)
		w.walkStatement(n.Body)
	case *ast.DoWhileStatement:
		w.walkExpression(n.Test)
		w.walkStatement(n.Body)
	case *ast.ReturnStatement:
		if n.Argument != nil {
			w.walkExpression(n.Argument)
		}
	case *ast.VariableStatement:
		for _, e := range n.List {
			w.walkExpression(e)
		}
	case *ast.LexicalDeclaration:
		for _, e := range n.List {
			w.walkExpression(e)
		}
	case *ast.FunctionDeclaration:
		if n.Function != nil && n.Function.Body != nil {
			w.walkStatements(n.Function.Body.List)
		}
	case *ast.TryStatement:
		if n.Body != nil {
			w.walkStatements(n.Body.List)
		}
		if n.Catch != nil && n.Catch.Body != nil {
			w.walkStatements(n.Catch.Body.List)
		}
		if n.Finally != nil {
			w.walkStatements(n.Finally.List)
		}
	case *ast.ThrowStatement:
		w.walkExpression(n.Argument)
	case *ast.SwitchStatement:
		w.walkExpression(n.Discriminant)
		for _, c := range n.Body {
			w.walkStatements(c.Consequent)
		}
	case *ast.LabelledStatement:
		w.walkStatement(n.Statement)
	}
}

func (w *walker) walkExpression(e ast.Expression) {
	switch n := e.(type) {
	case nil:
		return
	case *ast.Identifier:
		name := n.Name.String()
		if bannedNames[name] {
			w.report(RuleBannedName, fmt.Sprintf("banned name is not allowed: %s", name), n.Idx)
		}
		if bannedModules[name] {
			w.report(RuleBannedModule, fmt.Sprintf("banned module name is not allowed: %s", name), n.Idx)
		}
	case *ast.DotExpression:
		w.walkExpression(n.Left)
		attr := n.Identifier.Name.String()
		if strings.Contains(attr, "__") {
			w.report(RuleDunderAttribute, fmt.Sprintf("dunder attribute access is not allowed: %s", attr), n.Idx)
		}
	case *ast.BracketExpression:
		w.walkExpression(n.Left)
		w.walkExpression(n.Member)
	case *ast.CallExpression:
		w.walkExpression(n.Callee)
		for _, arg := range n.ArgumentList {
			w.walkExpression(arg)
		}
	case *ast.NewExpression:
		w.walkExpression(n.Callee)
		for _, arg := range n.ArgumentList {
			w.walkExpression(arg)
		}
	case *ast.AssignExpression:
		if id, ok := n.Left.(*ast.Identifier); ok {
			name := id.Name.String()
			if bannedNames[name] {
				w.report(RuleGlobalRebind, fmt.Sprintf("rebinding reserved identifier is not allowed: %s", name), n.Idx)
			}
		}
		w.walkExpression(n.Left)
		w.walkExpression(n.Right)
	case *ast.BinaryExpression:
		w.walkExpression(n.Left)
		w.walkExpression(n.Right)
	case *ast.UnaryExpression:
		w.walkExpression(n.Operand)
	case *ast.ConditionalExpression:
		w.walkExpression(n.Test)
		w.walkExpression(n.Consequent)
		w.walkExpression(n.Alternate)
	case *ast.SequenceExpression:
		for _, item := range n.Sequence {
			w.walkExpression(item)
		}
	case *ast.ArrayLiteral:
		for _, item := range n.Value {
			w.walkExpression(item)
		}
	case *ast.ObjectLiteral:
		for _, prop := range n.Value {
			if kv, ok := prop.(*ast.PropertyKeyed); ok {
				w.walkExpression(kv.Value)
			}
		}
	case *ast.FunctionLiteral:
		if n.Body != nil {
			w.walkStatements(n.Body.List)
		}
	case *ast.ArrowFunctionLiteral:
		if body, ok := n.Body.(*ast.BlockStatement); ok {
			w.walkStatements(body.List)
		}
	}
}

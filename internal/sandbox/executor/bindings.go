/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package executor

import (
	"context"
	"strings"

	"github.com/dop251/goja"

	"github.com/kestrelrun/rlmrs/internal/sandbox/docview"
	"github.com/kestrelrun/rlmrs/internal/sandbox/toolapi"
)

// installConsole binds console.log/print, appending every call's
// space-joined arguments plus a newline to stdout, mirroring exec()'s
// redirected sys.stdout in original_source.
func installConsole(vm *goja.Runtime, stdout *strings.Builder) {
	write := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		stdout.WriteString(strings.Join(parts, " "))
		stdout.WriteString("\n")
		return goja.Undefined()
	}
	console := vm.NewObject()
	_ = console.Set("log", write)
	_ = vm.Set("console", console)
	_ = vm.Set("print", write)
}

// installContext exposes the ContextView as the JS `context` global:
// context.length, and context.doc(i) with docId/docIndex/length()/slice/
// find/regex/pageSpans.
func installContext(vm *goja.Runtime, cv *docview.ContextView) error {
	obj := vm.NewObject()
	_ = obj.Set("length", cv.Len())

	docs := make([]*goja.Object, cv.Len())
	for i := 0; i < cv.Len(); i++ {
		d := cv.Doc(i)
		docObj := vm.NewObject()
		_ = docObj.Set("docId", d.DocID())
		_ = docObj.Set("docIndex", d.DocIndex())
		_ = docObj.Set("length", func(call goja.FunctionCall) goja.Value {
			n, err := d.Len(context.Background())
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			return vm.ToValue(n)
		})
		_ = docObj.Set("slice", func(call goja.FunctionCall) goja.Value {
			start, end, tag := sliceArgs(call)
			text, err := d.Slice(context.Background(), start, end, tag)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			return vm.ToValue(text)
		})
		_ = docObj.Set("find", func(call goja.FunctionCall) goja.Value {
			term, start, end, maxHits := findArgs(call)
			hits, err := d.Find(context.Background(), term, start, end, maxHits)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			return vm.ToValue(hitsToValues(hits))
		})
		_ = docObj.Set("regex", func(call goja.FunctionCall) goja.Value {
			pattern, start, end, maxHits := findArgs(call)
			hits, err := d.Regex(context.Background(), pattern, start, end, maxHits)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			return vm.ToValue(hitsToValues(hits))
		})
		_ = docObj.Set("pageSpans", func(call goja.FunctionCall) goja.Value {
			spans, err := d.PageSpans(context.Background())
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			out := make([]map[string]any, len(spans))
			for i, s := range spans {
				out[i] = map[string]any{"start_char": s.StartChar, "end_char": s.EndChar}
			}
			return vm.ToValue(out)
		})
		docs[i] = docObj
	}
	_ = obj.Set("doc", func(call goja.FunctionCall) goja.Value {
		idx := int(call.Argument(0).ToInteger())
		if idx < 0 || idx >= len(docs) {
			panic(vm.ToValue("context index out of range"))
		}
		return docs[idx]
	})
	return vm.Set("context", obj)
}

func sliceArgs(call goja.FunctionCall) (start, end int, tag string) {
	start = int(call.Argument(0).ToInteger())
	end = int(call.Argument(1).ToInteger())
	if len(call.Arguments) > 2 && !goja.IsUndefined(call.Argument(2)) {
		tag = call.Argument(2).String()
	}
	return
}

func findArgs(call goja.FunctionCall) (term string, start, end, maxHits int) {
	term = call.Argument(0).String()
	start = int(call.Argument(1).ToInteger())
	end = int(call.Argument(2).ToInteger())
	maxHits = 20
	if len(call.Arguments) > 3 && !goja.IsUndefined(call.Argument(3)) {
		maxHits = int(call.Argument(3).ToInteger())
	}
	return
}

func hitsToValues(hits []docview.Hit) []map[string]any {
	out := make([]map[string]any, len(hits))
	for i, h := range hits {
		out[i] = map[string]any{"start_char": h.StartChar, "end_char": h.EndChar}
	}
	return out
}

// installTool exposes the ToolAPI as a JS `tool` global. queue_llm/yield/
// final raise Go panics carrying the sentinel *toolapi.Yield/*toolapi.Final/
// *toolapi.RequestLimitError/*toolapi.PreconditionError/*toolapi.ArgumentError
// values, recovered by runProgram.
func installTool(vm *goja.Runtime, tool *toolapi.ToolAPI) error {
	obj := vm.NewObject()
	_ = obj.Set("queue_llm", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		prompt := call.Argument(1).String()
		args := toolapi.QueueLLMArgs{ModelHint: "sub"}
		if opts := call.Argument(2); !goja.IsUndefined(opts) {
			o := opts.ToObject(vm)
			if v := o.Get("model_hint"); v != nil && !goja.IsUndefined(v) {
				args.ModelHint = v.String()
			}
			if v := o.Get("max_tokens"); v != nil && !goja.IsUndefined(v) {
				n := int(v.ToInteger())
				args.MaxTokens = &n
			}
			if v := o.Get("max_output_tokens"); v != nil && !goja.IsUndefined(v) {
				n := int(v.ToInteger())
				args.MaxOutputTokens = &n
			}
			if v := o.Get("max_output_chars"); v != nil && !goja.IsUndefined(v) {
				n := int(v.ToInteger())
				args.MaxOutputChars = &n
			}
			if v := o.Get("temperature"); v != nil && !goja.IsUndefined(v) {
				args.Temperature = v.ToFloat()
			}
			if v := o.Get("metadata"); v != nil && !goja.IsUndefined(v) {
				if m, ok := v.Export().(map[string]any); ok {
					args.Metadata = m
				}
			}
		}
		if err := tool.QueueLLM(key, prompt, args); err != nil {
			panic(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("queue_search", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		query := call.Argument(1).String()
		args := toolapi.QueueSearchArgs{K: 10}
		if opts := call.Argument(2); !goja.IsUndefined(opts) {
			o := opts.ToObject(vm)
			if v := o.Get("k"); v != nil && !goja.IsUndefined(v) {
				args.K = int(v.ToInteger())
			}
			if v := o.Get("filters"); v != nil && !goja.IsUndefined(v) {
				if m, ok := v.Export().(map[string]any); ok {
					args.Filters = m
				}
			}
		}
		if err := tool.QueueSearch(key, query, args); err != nil {
			panic(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("yield", func(call goja.FunctionCall) goja.Value {
		reason := ""
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			reason = call.Argument(0).String()
		}
		panic(tool.Yield(reason))
	})
	_ = obj.Set("final", func(call goja.FunctionCall) goja.Value {
		panic(tool.Final(call.Argument(0).String()))
	})
	_ = obj.Set("schema", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(toolapi.BaseSchema())
	})
	return vm.Set("tool", obj)
}

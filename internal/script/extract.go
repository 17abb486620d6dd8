package script

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"scriptflow/internal/integration"
)

// FileOptions is the dialect scripts are parsed and executed with. Top-level
// control flow and reassignment are allowed because machine-authored scripts
// routinely guard registrations with module-level conditionals.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// maxExtractionSteps bounds module-level evaluation so a top-level loop
// cannot hang extraction. Registration-only module scopes stay far below it.
const maxExtractionSteps = 1 << 20

// Extractor derives a Manifest from script source by executing module-level
// statements only. Starlark never evaluates function bodies during load, so
// registrations (init() calls, on_schedule/on_event) are the only observable
// side effects.
type Extractor struct {
	integrations *integration.Registry
}

func NewExtractor(integrations *integration.Registry) *Extractor {
	return &Extractor{integrations: integrations}
}

// Parse parses the script without executing anything. Both gates operate on
// the returned syntax tree.
func (e *Extractor) Parse(name string, src []byte) (*syntax.File, error) {
	file, err := FileOptions.Parse(name, src, 0)
	if err != nil {
		return nil, &ExtractionError{Detail: err.Error(), Err: err}
	}
	return file, nil
}

// Extract runs the script's module scope against a fresh registry and returns
// the derived manifest plus the module globals (trigger target functions live
// there). Idempotent for identical source.
func (e *Extractor) Extract(name string, src []byte) (*Manifest, starlark.StringDict, error) {
	reg := NewRegistry()
	sdk := NewSDK(reg, e.integrations)

	thread := &starlark.Thread{
		Name: "extract:" + name,
		// Module-level print output is discarded during extraction.
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(maxExtractionSteps)

	globals, err := starlark.ExecFileOptions(FileOptions, thread, name, src, sdk.Predeclared())
	if err != nil {
		detail := err.Error()
		if evalErr, ok := err.(*starlark.EvalError); ok {
			detail = evalErr.Backtrace()
		}
		return nil, nil, &ExtractionError{Detail: detail, Err: err}
	}

	manifest := reg.Manifest()
	if err := e.validateTargets(manifest, globals); err != nil {
		return nil, nil, err
	}
	return manifest, globals, nil
}

// validateTargets enforces the manifest invariant that every trigger's target
// function is defined at module scope.
func (e *Extractor) validateTargets(m *Manifest, globals starlark.StringDict) error {
	for _, trig := range m.Triggers {
		v, ok := globals[trig.TargetFunction]
		if !ok {
			return &ExtractionError{
				Detail: fmt.Sprintf("trigger target %q is not defined at module scope", trig.TargetFunction),
			}
		}
		if _, ok := v.(*starlark.Function); !ok {
			return &ExtractionError{
				Detail: fmt.Sprintf("trigger target %q is not a function", trig.TargetFunction),
			}
		}
	}
	return nil
}

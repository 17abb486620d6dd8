package script

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"scriptflow/internal/cron"
	"scriptflow/internal/integration"
)

// SDK is the Starlark surface exposed to scripts. The same surface serves two
// modes: extraction (module-level statements record metadata into a Registry,
// integration calls are inert) and runtime (integration calls check their
// injected credentials and perform work).
type SDK struct {
	reg          *Registry
	integrations *integration.Registry
	runtime      bool
	lookupEnv    func(string) string
}

// NewSDK returns an extraction-mode SDK recording into reg.
func NewSDK(reg *Registry, integrations *integration.Registry) *SDK {
	return &SDK{reg: reg, integrations: integrations}
}

// NewRuntimeSDK returns a runtime-mode SDK. lookupEnv resolves injected
// credential variables; a missing required variable fails the calling method.
func NewRuntimeSDK(reg *Registry, integrations *integration.Registry, lookupEnv func(string) string) *SDK {
	return &SDK{reg: reg, integrations: integrations, runtime: true, lookupEnv: lookupEnv}
}

// Predeclared builds the predeclared environment for script execution.
func (s *SDK) Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"integrations": s.integrationsModule(),
		"ai":           s.aiModule(),
		"on_schedule":  starlark.NewBuiltin("on_schedule", s.onSchedule),
		"on_event":     starlark.NewBuiltin("on_event", s.onEvent),
	}
}

// AIMethods returns the names on the ai module, sorted. The Correctness Gate
// snapshots this at startup instead of hardcoding the surface.
func (s *SDK) AIMethods() []string {
	mod := s.aiModule().(*starlarkstruct.Module)
	names := make([]string, 0, len(mod.Members))
	for name := range mod.Members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IntegrationNames returns the registered integration names.
func (s *SDK) IntegrationNames() []string {
	return s.integrations.Names()
}

func (s *SDK) integrationsModule() starlark.Value {
	members := starlark.StringDict{}
	for _, name := range s.integrations.Names() {
		name := name
		members[name] = &starlarkstruct.Module{
			Name: name,
			Members: starlark.StringDict{
				"init": starlark.NewBuiltin(name+".init", func(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
					if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
						return nil, err
					}
					s.reg.RecordIntegration(name)
					return s.handle(name), nil
				}),
			},
		}
	}
	return &starlarkstruct.Module{Name: "integrations", Members: members}
}

// handle is the value returned by <integration>.init(): the object scripts
// invoke inside their trigger functions.
func (s *SDK) handle(name string) starlark.Value {
	method := func(op string) *starlark.Builtin {
		return starlark.NewBuiltin(name+"."+op, func(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if !s.runtime {
				return starlark.None, nil
			}
			if err := s.checkCredentials(name); err != nil {
				return nil, err
			}
			var parts []string
			for _, a := range args {
				parts = append(parts, a.String())
			}
			fmt.Printf("%s.%s(%s)\n", name, op, strings.Join(parts, ", "))
			return starlark.None, nil
		})
	}
	return &starlarkstruct.Module{
		Name: name,
		Members: starlark.StringDict{
			"send":   method("send"),
			"search": method("search"),
			"fetch":  method("fetch"),
		},
	}
}

// checkCredentials enforces the failed-precondition rule: a required
// credential variable that was not injected aborts the call instead of
// proceeding with an empty value.
func (s *SDK) checkCredentials(name string) error {
	spec, ok := s.integrations.Get(name)
	if !ok {
		return fmt.Errorf("unknown integration %q", name)
	}
	for _, envVar := range spec.RequiredEnvVars() {
		if s.lookupEnv(envVar) == "" {
			return fmt.Errorf("integration %q: required credential %s is not configured", name, envVar)
		}
	}
	return nil
}

func (s *SDK) onSchedule(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cronExpr string
	var fn *starlark.Function
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "cron", &cronExpr, "fn", &fn); err != nil {
		return nil, err
	}
	if _, err := cron.Parse(cronExpr); err != nil {
		return nil, err
	}
	s.reg.RecordTrigger(TriggerSpec{
		Kind:           TriggerSchedule,
		TargetFunction: fn.Name(),
		Config:         map[string]string{"cron": cronExpr},
	})
	return starlark.None, nil
}

func (s *SDK) onEvent(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var event string
	var fn *starlark.Function
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "event", &event, "fn", &fn); err != nil {
		return nil, err
	}
	if event == "" {
		return nil, fmt.Errorf("%s: event kind must not be empty", b.Name())
	}
	s.reg.RecordTrigger(TriggerSpec{
		Kind:           TriggerEvent,
		TargetFunction: fn.Name(),
		Config:         map[string]string{"event": event},
	})
	return starlark.None, nil
}

func (s *SDK) aiModule() starlark.Value {
	textMethod := func(name string, f func(string) string) *starlark.Builtin {
		return starlark.NewBuiltin("ai."+name, func(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var text string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
				return nil, err
			}
			return starlark.String(f(text)), nil
		})
	}

	return &starlarkstruct.Module{
		Name: "ai",
		Members: starlark.StringDict{
			// Model transport lives outside the core; these stubs carry the
			// introspectable name surface and deterministic placeholder output.
			"summarize": textMethod("summarize", func(text string) string {
				if len(text) > 200 {
					return text[:200]
				}
				return text
			}),
			"classify":  textMethod("classify", func(string) string { return "unknown" }),
			"sentiment": textMethod("sentiment", func(string) string { return "neutral" }),
			"translate": textMethod("translate", func(text string) string { return text }),
			"extract": starlark.NewBuiltin("ai.extract", func(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var text, targetType string
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "target_type?", &targetType); err != nil {
					return nil, err
				}
				return starlark.String(""), nil
			}),
		},
	}
}

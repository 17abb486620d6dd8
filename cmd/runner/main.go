// scriptflow-runner executes one function of a validated script inside an
// already-isolated environment. The server never runs script code in its own
// process; it launches this binary (directly or inside a container) with the
// script on disk and credentials in the environment.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.starlark.net/starlark"

	"scriptflow/internal/integration"
	"scriptflow/internal/script"
)

// maxRunSteps bounds interpreter work per invocation. Wall-clock enforcement
// belongs to the parent; this catches tight loops that never block.
const maxRunSteps = 1 << 28

func main() {
	scriptPath := flag.String("script", "", "path to the script file")
	function := flag.String("function", "", "module-level function to invoke")
	payload := flag.String("payload", "", "optional payload passed to the function")
	flag.Parse()

	if *scriptPath == "" || *function == "" {
		fmt.Fprintln(os.Stderr, "usage: scriptflow-runner --script FILE --function NAME [--payload DATA]")
		os.Exit(2)
	}

	if err := run(*scriptPath, *function, *payload); err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			fmt.Fprintln(os.Stderr, evalErr.Backtrace())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(scriptPath, function, payload string) error {
	src, err := os.ReadFile(scriptPath) // #nosec G304 -- path comes from the parent process, not the script
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	sdk := script.NewRuntimeSDK(script.NewRegistry(), integration.NewRegistry(), os.Getenv)

	thread := &starlark.Thread{
		Name: "run:" + function,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Println(msg)
		},
	}
	thread.SetMaxExecutionSteps(maxRunSteps)

	globals, err := starlark.ExecFileOptions(script.FileOptions, thread, scriptPath, src, sdk.Predeclared())
	if err != nil {
		return err
	}

	target, ok := globals[function].(*starlark.Function)
	if !ok {
		return fmt.Errorf("function %q is not defined at module scope", function)
	}

	var args starlark.Tuple
	if target.NumParams() > 0 {
		args = starlark.Tuple{starlark.String(payload)}
	}
	_, err = starlark.Call(thread, target, args, nil)
	return err
}

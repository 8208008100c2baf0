package process

import (
	"fmt"

	"github.com/tailored-agentic-units/procrt/loader"
)

// RegisterRunFunc identifies fn via the Object Loader and registers it in
// loader.Default() so Continue/Wait commands and Created states can
// round-trip it by name across a save/load boundary. fn must be a
// package-level function — see RunFunc's doc comment.
func RegisterRunFunc(fn RunFunc) (loader.Identifier, error) {
	id, err := loader.Default().RegisterSelf(fn)
	if err != nil {
		return "", err
	}
	return id, nil
}

// resolveRunFunc looks up a previously registered RunFunc by identifier.
func resolveRunFunc(id loader.Identifier) (RunFunc, error) {
	obj, err := loader.Default().Load(id)
	if err != nil {
		return nil, err
	}
	fn, ok := obj.(RunFunc)
	if !ok {
		return nil, fmt.Errorf("process: identifier %s does not resolve to a RunFunc", id)
	}
	return fn, nil
}

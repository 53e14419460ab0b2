package wasm

import "fmt"

// InstantiationError reports a failure to instantiate a module: an
// unresolved or incompatible import, an out-of-bounds active segment, or a
// function body that fails to compile. A trap raised by the start function
// is returned as a wrapped error instead (see Instantiate). Per §4.4, a failed instantiation must
// not leave a partially observable module behind; the caller simply
// discards the returned error along with any ModuleInstance in progress.
type InstantiationError struct {
	Reason string
}

func (e *InstantiationError) Error() string {
	return "instantiation failed: " + e.Reason
}

func errInstantiate(format string, args ...interface{}) error {
	return &InstantiationError{Reason: fmt.Sprintf(format, args...)}
}

// errUnresolvedImport and errImportTypeMismatch build the
// InstantiationErrors specific to import resolution.
func errUnresolvedImport(moduleName, name string) error {
	return errInstantiate("unresolved import %q.%q", moduleName, name)
}

func errImportTypeMismatch(moduleName, name string) error {
	return errInstantiate("import %q.%q does not match the expected type", moduleName, name)
}

// Package backends defines the interface a numeric execution engine needs to implement
// to run emitted kernel programs, and the registry used to pick one at runtime.
//
// A backend compiles an ir.Program (plus its data archive) into an Executable bound to
// that backend instance. Backends that cannot express an op should fail Compile with a
// descriptive error; the compilation cache surfaces it to the caller unchanged.
//
// To simplify error handling in the registry, New and NewWithConfig throw (panic) with a
// stack trace in case of errors. See package github.com/gomlx/exceptions.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/shapes"
	"github.com/dgbench/dgbench/types/tensors"
)

// Backend is the API a dgbench execution engine implements.
type Backend interface {
	// Name returns the short name of the backend, e.g. "simplego".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Compile binds the program and its auxiliary data to this backend instance and
	// returns an executable for it.
	Compile(program *ir.Program, data *ir.Archive) (Executable, error)

	// Finalize releases all associated resources immediately and makes the backend invalid.
	Finalize()
}

// Executable is a compiled kernel bound to one backend instance.
type Executable interface {
	// Inputs returns the kernel's placeholder names and shapes, in declaration order.
	Inputs() (names []string, inputShapes []shapes.Shape)

	// Outputs returns the kernel's output names and shapes, in declaration order.
	Outputs() (names []string, outputShapes []shapes.Shape)

	// Execute runs the kernel. Inputs are given in declaration order and must match the
	// declared shapes; outputs are returned in declaration order.
	Execute(inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

	// Finalize releases resources associated with the executable.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a
// configuration string that is passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered returns the names of all registered backends.
func Registered() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	return names
}

// DefaultConfig is the backend configuration to use if neither the environment variable
// nor an explicit configuration is given.
var DefaultConfig string

// DGBENCH_BACKEND is the environment variable with the default backend configuration.
//
// The format of config is "<backend_name>:<backend_configuration>". "<backend_name>" is
// the name of a registered backend and "<backend_configuration>" is backend specific.
const DGBENCH_BACKEND = "DGBENCH_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment DGBENCH_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(DGBENCH_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates the Backend described by config, formatted as
// "<backend_name>:<backend_configuration>".
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for dgbench -- maybe import the default one with import _ "github.com/dgbench/dgbench/backends/simplego"?`)
	}
	backendName := config
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}

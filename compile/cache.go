// Package compile implements the signature-keyed tracing-and-compilation cache at the
// heart of dgbench.
//
// A Cache owns one kernel function, one backend instance and one set of on-disk
// artifact paths. Calling it behaves like calling the kernel function itself on
// concrete tensors:
//
//   - On the first call with a given argument shape signature (the descriptor), the
//     function is traced over symbolic placeholders, the resulting graph is emitted as
//     standalone kernel source plus a data archive, all artifacts are persisted, the
//     emitted code is loaded back, executed and validated against an eagerly evaluated
//     reference output, and only then admitted to the in-memory cache.
//   - Subsequent calls whose arguments have the same descriptor skip tracing, emission
//     and validation entirely and invoke the cached executable.
//
// Per descriptor the lifecycle is Uncompiled -> Validating -> Cached or Failed, both
// terminal for the process lifetime: there is no eviction and no invalidation. To force
// recompilation, delete the persisted artifacts and restart the process.
//
// The cache is synchronous and effectively single-writer: the whole miss path runs under
// the cache mutex (it writes to one fixed set of artifact paths), while cache hits only
// hold it for the map lookup.
package compile

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dgbench/dgbench/backends"
	"github.com/dgbench/dgbench/codegen"
	"github.com/dgbench/dgbench/containers"
	"github.com/dgbench/dgbench/ir"
)

// entryState tracks the per-descriptor lifecycle.
type entryState uint8

const (
	stateValidating entryState = iota + 1
	stateCached
	stateFailed
)

// cacheEntry is the in-memory record for one descriptor: the bound executable on
// success, or the terminal failure.
type cacheEntry struct {
	state    entryState
	exec     backends.Executable
	template *containers.Container
	failure  error
}

// compiledUnit gathers everything persisted for one descriptor.
type compiledUnit struct {
	archive   *ir.Archive
	template  *containers.Container
	refArgs   []*containers.Container
	refKwargs map[string]*containers.Container
	refOutput *containers.Container
}

// Cache is the compilation cache for one kernel function bound to one backend.
type Cache struct {
	backend backends.Backend
	name    string
	fn      KernelFn
	paths   ArtifactPaths

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCache creates a compilation cache for fn. The kernel name shows up in emitted
// source and logs. All artifact paths must be absolute; a relative path fails here,
// before any tracing, with an InvalidPathError.
//
// Callers using several caches concurrently must give each its own artifact paths; the
// cache does not guard against two instances sharing files.
func NewCache(backend backends.Backend, kernelName string, fn KernelFn, paths ArtifactPaths) (*Cache, error) {
	if err := paths.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("compile.NewCache: nil kernel function")
	}
	return &Cache{
		backend: backend,
		name:    kernelName,
		fn:      fn,
		paths:   paths,
		entries: make(map[string]*cacheEntry),
	}, nil
}

// Name returns the kernel name the cache was built with.
func (c *Cache) Name() string { return c.name }

// Backend returns the backend instance compiled kernels are bound to.
func (c *Cache) Backend() backends.Backend { return c.backend }

// NumCompiled returns how many descriptors have successfully compiled units.
func (c *Cache) NumCompiled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entry := range c.entries {
		if entry.state == stateCached {
			n++
		}
	}
	return n
}

// Call invokes the kernel on concrete arguments. Results have the same container
// structure as the kernel function's symbolic return value.
//
// Novel descriptors take the full miss path (trace, emit, persist, load, validate);
// descriptors seen before dispatch directly to the cached executable. A descriptor whose
// compilation failed stays failed for the process lifetime and returns the original
// error on every call.
func (c *Cache) Call(args []*containers.Container, kwargs map[string]*containers.Container) (*containers.Container, error) {
	ex, err := extractArguments(args, kwargs)
	if err != nil {
		return nil, err
	}
	descHash := xxhash.Sum64String(ex.descriptor)

	c.mu.Lock()
	if entry, found := c.entries[ex.descriptor]; found {
		switch entry.state {
		case stateCached:
			exec, template := entry.exec, entry.template
			c.mu.Unlock()
			klog.V(2).Infof("dgbench/compile: cache hit for kernel %q (descriptor %016x)", c.name, descHash)
			return runAndReassemble(exec, ex.bindings, template)
		case stateFailed:
			failure := entry.failure
			c.mu.Unlock()
			return nil, failure
		default:
			c.mu.Unlock()
			return nil, errors.Errorf("kernel %q called reentrantly while compiling descriptor %016x", c.name, descHash)
		}
	}
	entry := &cacheEntry{state: stateValidating}
	c.entries[ex.descriptor] = entry

	klog.V(1).Infof("dgbench/compile: cache miss for kernel %q (descriptor %016x), compiling", c.name, descHash)
	output, err := c.compileAndValidate(ex, entry)
	if err != nil {
		entry.state = stateFailed
		entry.failure = err
		c.mu.Unlock()
		return nil, err
	}
	entry.state = stateCached
	c.mu.Unlock()
	return output, nil
}

// compileAndValidate runs the full miss path for one descriptor. On success the entry's
// executable and template are set and the validated output is returned. Any failure
// leaves nothing registered in the in-memory cache (the entry is marked failed by the
// caller); on-disk artifacts from the failed attempt may exist but are never trusted.
func (c *Cache) compileAndValidate(ex *extracted, entry *cacheEntry) (*containers.Container, error) {
	tr, err := trace(c.name, c.fn, ex)
	if err != nil {
		return nil, err
	}
	source, archive, err := codegen.EmitSource(c.name, tr.outputs)
	if err != nil {
		return nil, err
	}
	refOutput, err := evalReference(tr, ex.bindings)
	if err != nil {
		return nil, err
	}
	unit := &compiledUnit{
		archive:   archive,
		template:  tr.template,
		refArgs:   ex.args,
		refKwargs: ex.kwargs,
		refOutput: refOutput,
	}
	if err := persistUnit(c.paths, source, unit); err != nil {
		return nil, err
	}
	exec, err := loadExecutable(c.backend, c.paths)
	if err != nil {
		return nil, err
	}
	output, err := validateUnit(c.name, exec, ex.bindings, unit.template, refOutput)
	if err != nil {
		exec.Finalize()
		return nil, err
	}
	entry.exec = exec
	entry.template = unit.template
	return output, nil
}

// Finalize releases the cached executables. The Cache shouldn't be used after that.
func (c *Cache) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.exec != nil {
			entry.exec.Finalize()
			entry.exec = nil
		}
	}
	c.entries = make(map[string]*cacheEntry)
}

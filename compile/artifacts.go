package compile

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dgbench/dgbench/containers"
)

// ArtifactPaths names the five on-disk artifacts of one compiled unit. All paths must be
// absolute; they are validated when the cache is constructed, not when first written.
//
// Artifacts are values, not versions: every cache miss overwrites them in place and no
// history is kept.
type ArtifactPaths struct {
	// Source is the emitted kernel source text (canonical IR form).
	Source string

	// Data is the named-array archive of auxiliary data the source references.
	Data string

	// RefInputs holds the serialized reference call arguments: positional and keyword
	// arguments, persisted independently, in backend-neutral tensor form.
	RefInputs string

	// RefOutput holds the serialized reference output container.
	RefOutput string

	// Template holds the serialized output template used to reassemble flat results.
	Template string
}

// Validate checks that every artifact path is absolute. It returns an InvalidPathError
// naming the first offending path.
func (p ArtifactPaths) Validate() error {
	for _, pair := range []struct{ role, path string }{
		{"kernel source", p.Source},
		{"data archive", p.Data},
		{"reference inputs", p.RefInputs},
		{"reference output", p.RefOutput},
		{"output template", p.Template},
	} {
		if !filepath.IsAbs(pair.path) {
			return &InvalidPathError{Role: pair.role, Path: pair.path}
		}
	}
	return nil
}

// refInputs is the wire form of the captured reference call arguments.
//
// Positional and keyword arguments are persisted as separate fields. (The system this
// design descends from pickled the positional tuple twice and lost the keyword
// arguments; keeping them distinct is deliberate.)
type refInputs struct {
	Args   []*containers.Container
	Kwargs map[string]*containers.Container
}

func writeSource(path, source string) error {
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return errors.Wrapf(err, "writing kernel source to %q", path)
	}
	return nil
}

func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading kernel source from %q", path)
	}
	return string(data), nil
}

func writeGob(path string, value any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating artifact file %q", path)
	}
	defer func() { _ = f.Close() }()
	if err := gob.NewEncoder(f).Encode(value); err != nil {
		return errors.Wrapf(err, "serializing artifact to %q", path)
	}
	return nil
}

func readGob(path string, value any) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening artifact file %q", path)
	}
	defer func() { _ = f.Close() }()
	if err := gob.NewDecoder(f).Decode(value); err != nil {
		return errors.Wrapf(err, "deserializing artifact from %q", path)
	}
	return nil
}

// persistUnit writes all five artifacts of a compiled unit, overwriting previous ones.
func persistUnit(paths ArtifactPaths, source string, unit *compiledUnit) error {
	if err := writeSource(paths.Source, source); err != nil {
		return err
	}
	if err := unit.archive.Save(paths.Data); err != nil {
		return err
	}
	if err := writeGob(paths.RefInputs, refInputs{Args: unit.refArgs, Kwargs: unit.refKwargs}); err != nil {
		return err
	}
	if err := writeGob(paths.Template, unit.template); err != nil {
		return err
	}
	if err := writeGob(paths.RefOutput, unit.refOutput); err != nil {
		return err
	}
	klog.V(1).Infof("dgbench/compile: persisted compiled unit for kernel source %q", paths.Source)
	return nil
}

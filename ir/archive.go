package ir

import (
	"encoding/gob"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/types/tensors"
)

// Archive is the named-array archive of constant/auxiliary data a kernel program loads at
// first use: precomputed operator matrices and any other tensors captured at trace time.
//
// SourceHash records the xxhash of the kernel source the archive was emitted with. A
// loader can cross-check it against the source file actually on disk, so a mismatched
// source/data pair (e.g. one half overwritten by a failed run) is caught before
// execution instead of producing silently wrong numbers.
type Archive struct {
	Entries    map[string]*tensors.Tensor
	SourceHash uint64
}

// NewArchive returns an empty archive.
func NewArchive() *Archive {
	return &Archive{Entries: make(map[string]*tensors.Tensor)}
}

// SourceHashOf returns the hash recorded into archives for the given kernel source.
func SourceHashOf(source string) uint64 {
	return xxhash.Sum64String(source)
}

// Names returns the entry names in sorted order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.Entries))
	for name := range a.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// archiveEntry is the gob wire form: a sorted list instead of a map, so archives with
// equal contents serialize identically.
type archiveEntry struct {
	Name   string
	Tensor *tensors.Tensor
}

// Save writes the archive to the given file path, overwriting it if it already exists.
func (a *Archive) Save(filePath string) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating file %q to save data archive", filePath)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "closing file %q after saving data archive", filePath)
		}
	}()

	entries := make([]archiveEntry, 0, len(a.Entries))
	for _, name := range a.Names() {
		entries = append(entries, archiveEntry{Name: name, Tensor: a.Entries[name]})
	}
	enc := gob.NewEncoder(f)
	if err = enc.Encode(a.SourceHash); err != nil {
		return errors.Wrapf(err, "serializing data archive to %q", filePath)
	}
	if err = enc.Encode(entries); err != nil {
		return errors.Wrapf(err, "serializing data archive to %q", filePath)
	}
	return nil
}

// LoadArchive reads an archive previously written with Save.
func LoadArchive(filePath string) (*Archive, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening data archive %q", filePath)
	}
	defer func() { _ = f.Close() }()

	a := NewArchive()
	var entries []archiveEntry
	dec := gob.NewDecoder(f)
	if err = dec.Decode(&a.SourceHash); err != nil {
		return nil, errors.Wrapf(err, "deserializing data archive %q", filePath)
	}
	if err = dec.Decode(&entries); err != nil {
		return nil, errors.Wrapf(err, "deserializing data archive %q", filePath)
	}
	for _, entry := range entries {
		a.Entries[entry.Name] = entry.Tensor
	}
	return a, nil
}

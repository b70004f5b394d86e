package benchmarks

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Result is one measured (case, backend) cell of a sweep.
type Result struct {
	Case     Case
	Backend  string
	FlopRate float64 // FLOP/s; NaN when the case failed on this backend
	Counts   Counts
}

// Run is the persisted record of one benchmark sweep: the swept axes, every measured
// cell, and the machine-model roofline per case.
type Run struct {
	ID        string
	CreatedAt time.Time

	Equations []string
	Dims      []int
	Degrees   []int
	Backends  []string

	Machine   Machine
	Results   []Result
	Rooflines map[Case]float64
}

// NewRun starts an empty sweep record with a fresh run ID.
func NewRun(equations []string, dims, degrees []int, backendNames []string, mach Machine) *Run {
	return &Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Equations: equations,
		Dims:      dims,
		Degrees:   degrees,
		Backends:  backendNames,
		Machine:   mach,
		Rooflines: make(map[Case]float64),
	}
}

// archiveTimeLayout matches the archive naming convention, e.g. case_2026_08_23_1405.gob.
const archiveTimeLayout = "2006_01_02_1504"

// Save writes the run as a gob file under dir, named case_<timestamp>.gob after the
// run's creation time, and returns the path.
func (r *Run) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating archive directory %q", dir)
	}
	path := filepath.Join(dir, "case_"+r.CreatedAt.Format(archiveTimeLayout)+".gob")
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "creating archive %q", path)
	}
	defer func() { _ = f.Close() }()
	if err := gob.NewEncoder(f).Encode(r); err != nil {
		return "", errors.Wrapf(err, "serializing run %s to %q", r.ID, path)
	}
	klog.V(1).Infof("dgbench/benchmarks: archived run %s to %s", r.ID, path)
	return path, nil
}

// LoadRun reads a sweep archive back.
func LoadRun(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening archive %q", path)
	}
	defer func() { _ = f.Close() }()
	r := &Run{}
	if err := gob.NewDecoder(f).Decode(r); err != nil {
		return nil, errors.Wrapf(err, "deserializing archive %q", path)
	}
	return r, nil
}

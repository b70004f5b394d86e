// dgbench runs DG-FEM right-hand-side benchmarks through the kernel compilation cache
// and reports measured GFLOPS per (equation, dim, degree, backend) next to the machine's
// roofline bound.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/dgbench/dgbench/backends"
	_ "github.com/dgbench/dgbench/backends/simplego"
	"github.com/dgbench/dgbench/benchmarks"
	"github.com/dgbench/dgbench/compile"
	"github.com/dgbench/dgbench/ir"
)

var flags = struct {
	equations string
	dims      string
	degrees   string
	backends  string
	artifacts string
	archive   string
	machine   string
}{}

var rootCmd = &cobra.Command{
	Use:          "dgbench",
	Short:        "Benchmark DG-FEM RHS kernels across dgbench backends",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep()
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List registered backends",
	Run: func(cmd *cobra.Command, args []string) {
		names := backends.Registered()
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
	},
}

func init() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.Flags().StringVar(&flags.equations, "equations", "wave",
		"comma-separated equations to time (wave,euler,maxwell)")
	rootCmd.Flags().StringVar(&flags.dims, "dims", "3",
		"comma-separated topological dimensions (e.g. 2,3)")
	rootCmd.Flags().StringVar(&flags.degrees, "degrees", "1,2,3",
		"comma-separated polynomial degrees (e.g. 1,2,3 for P1,P2,P3)")
	rootCmd.Flags().StringVar(&flags.backends, "backends", "go",
		"comma-separated backend configurations (see `dgbench backends`)")
	rootCmd.Flags().StringVar(&flags.artifacts, "artifacts", "artifacts",
		"directory for emitted kernel sources and reference data")
	rootCmd.Flags().StringVar(&flags.archive, "archive", "archive",
		"directory the sweep results archive is written to")
	rootCmd.Flags().StringVar(&flags.machine, "machine", "",
		"YAML file with the machine model (peak_flops, bandwidth) for the roofline column")
	rootCmd.AddCommand(backendsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitIntList(s, flagName string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing --%s element %q", flagName, p)
		}
		out = append(out, v)
	}
	return out, nil
}

func loadMachine(path string) (benchmarks.Machine, error) {
	mach := benchmarks.DefaultMachine
	if path == "" {
		return mach, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mach, errors.Wrapf(err, "reading machine model %q", path)
	}
	if err := yaml.Unmarshal(data, &mach); err != nil {
		return mach, errors.Wrapf(err, "parsing machine model %q", path)
	}
	return mach, nil
}

// artifactPaths lays out the five per-(case, backend) artifacts below the artifacts
// directory, e.g. artifacts/euler_3d_p2/go/kernel.dgk.
func artifactPaths(artifactsDir string, c benchmarks.Case, backendName string) (compile.ArtifactPaths, error) {
	dir, err := filepath.Abs(filepath.Join(artifactsDir, c.Key(), backendName))
	if err != nil {
		return compile.ArtifactPaths{}, errors.Wrapf(err, "resolving artifact directory for %s", c)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return compile.ArtifactPaths{}, errors.Wrapf(err, "creating artifact directory %q", dir)
	}
	return compile.ArtifactPaths{
		Source:    filepath.Join(dir, "kernel.dgk"),
		Data:      filepath.Join(dir, "data.gob"),
		RefInputs: filepath.Join(dir, "ref_inputs.gob"),
		RefOutput: filepath.Join(dir, "ref_output.gob"),
		Template:  filepath.Join(dir, "template.gob"),
	}, nil
}

// newBackend converts the registry's panic-on-error convention to a plain error.
func newBackend(config string) (b backends.Backend, err error) {
	err = exceptions.TryCatch[error](func() { b = backends.NewWithConfig(config) })
	return
}

type cell struct {
	c       benchmarks.Case
	backend string
}

func runSweep() error {
	equations := splitList(flags.equations)
	backendConfigs := splitList(flags.backends)
	dims, err := splitIntList(flags.dims, "dims")
	if err != nil {
		return err
	}
	degrees, err := splitIntList(flags.degrees, "degrees")
	if err != nil {
		return err
	}
	if len(equations) == 0 || len(dims) == 0 || len(degrees) == 0 || len(backendConfigs) == 0 {
		return errors.New("--equations, --dims, --degrees and --backends must all be non-empty")
	}
	mach, err := loadMachine(flags.machine)
	if err != nil {
		return err
	}

	var cases []benchmarks.Case
	for _, dim := range dims {
		for _, equation := range equations {
			for _, degree := range degrees {
				cases = append(cases, benchmarks.Case{Equation: equation, Dim: dim, Degree: degree})
			}
		}
	}

	run := benchmarks.NewRun(equations, dims, degrees, backendConfigs, mach)
	rates := make(map[cell]float64, len(cases)*len(backendConfigs))
	bar := progressbar.NewOptions(len(cases)*len(backendConfigs),
		progressbar.OptionSetDescription("benchmarking"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)

	for _, config := range backendConfigs {
		backend, err := newBackend(config)
		if err != nil {
			return errors.WithMessagef(err, "instantiating backend %q", config)
		}
		for _, c := range cases {
			rate, counts, err := measureCell(backend, c, flags.artifacts)
			if err != nil {
				klog.Warningf("dgbench: %s on backend %q failed: %v", c, config, err)
				rate = math.NaN()
			}
			rates[cell{c, config}] = rate
			run.Results = append(run.Results, benchmarks.Result{
				Case: c, Backend: config, FlopRate: rate, Counts: counts,
			})
			if _, done := run.Rooflines[c]; !done && counts.Flops > 0 {
				run.Rooflines[c] = mach.RooflineRate(counts)
			}
			_ = bar.Add(1)
		}
		backend.Finalize()
	}

	path, err := run.Save(flags.archive)
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		fmt.Printf("Archived run %s to %s (%s)\n\n", run.ID, path, humanize.Bytes(uint64(info.Size())))
	}

	printTables(run, rates, equations, dims, degrees, backendConfigs)
	return nil
}

// measureCell builds, compiles and times one (case, backend) cell, returning the
// measured FLOP rate and the static work estimate of the emitted kernel.
func measureCell(backend backends.Backend, c benchmarks.Case, artifactsDir string) (float64, benchmarks.Counts, error) {
	kernel, err := benchmarks.Build(c)
	if err != nil {
		return math.NaN(), benchmarks.Counts{}, err
	}
	paths, err := artifactPaths(artifactsDir, c, backend.Name())
	if err != nil {
		return math.NaN(), benchmarks.Counts{}, err
	}
	cache, err := compile.NewCache(backend, c.Key()+"_rhs", kernel.Fn, paths)
	if err != nil {
		return math.NaN(), benchmarks.Counts{}, err
	}
	defer cache.Finalize()

	m, err := benchmarks.Measure(func() error {
		_, err := cache.Call(kernel.Args, kernel.Kwargs)
		return err
	})
	if err != nil {
		return math.NaN(), benchmarks.Counts{}, err
	}

	source, err := os.ReadFile(paths.Source)
	if err != nil {
		return math.NaN(), benchmarks.Counts{}, errors.Wrapf(err, "reading emitted kernel %q", paths.Source)
	}
	program, err := ir.Parse(string(source))
	if err != nil {
		return math.NaN(), benchmarks.Counts{}, err
	}
	counts, err := benchmarks.Analyze(program)
	if err != nil {
		return math.NaN(), benchmarks.Counts{}, err
	}
	return m.Rate(counts.Flops), counts, nil
}

func stringifyFlops(rate float64) string {
	if math.IsNaN(rate) {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", rate*1e-9)
}

// printTables renders one GFLOPS table per (dim, equation), degrees as rows, backends
// plus the roofline bound as columns.
func printTables(run *benchmarks.Run, rates map[cell]float64, equations []string, dims, degrees []int, backendConfigs []string) {
	for _, dim := range dims {
		for _, equation := range equations {
			fmt.Printf("GFLOPS/s for %dD-%s:\n", dim, equation)
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader(append(append([]string{""}, backendConfigs...), "Roofline"))
			table.SetAlignment(tablewriter.ALIGN_RIGHT)
			for _, degree := range degrees {
				c := benchmarks.Case{Equation: equation, Dim: dim, Degree: degree}
				row := []string{fmt.Sprintf("P%d", degree)}
				for _, config := range backendConfigs {
					row = append(row, stringifyFlops(rates[cell{c, config}]))
				}
				roofline, found := run.Rooflines[c]
				if !found {
					roofline = math.NaN()
				}
				row = append(row, stringifyFlops(roofline))
				table.Append(row)
			}
			table.Render()
			fmt.Println()
		}
	}
}

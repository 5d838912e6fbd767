// Package staging lays out the per-project directories of an evaluation run and places the
// run's parameter file where the runtime and the other projects can find it.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/runtime"
	"github.com/wrfhydro/snoweval/internal/window"
)

// Layout is the directory tree of one model project under its top directory.
type Layout struct {
	TopDir string
	Alias  string
}

// ProjectDir is TOPDIR/ALIAS.
func (l Layout) ProjectDir() string { return filepath.Join(l.TopDir, l.Alias) }

// JobDir is where a named job keeps its working files.
func (l Layout) JobDir(job string) string { return filepath.Join(l.ProjectDir(), job) }

// StatDir holds read datasets, statistics and observation files.
func (l Layout) StatDir() string {
	return filepath.Join(l.ProjectDir(), "analysis_out", "read_datasets")
}

// PlotDir holds plots.
func (l Layout) PlotDir() string {
	return filepath.Join(l.ProjectDir(), "analysis_out", "plotting")
}

// TmpDir is the project scratch directory.
func (l Layout) TmpDir() string { return filepath.Join(l.ProjectDir(), "tmp") }

// NamelistDir holds the parameter files of every run touching the project.
func (l Layout) NamelistDir() string { return filepath.Join(l.ProjectDir(), "namelists") }

// Run describes the run a parameter file is named after.
type Run struct {
	Window   window.Window
	Aliases  []string
	SnowRead int
	SnowRun  int
	Subset   bool
	Pad      int
}

// Stager writes parameter files. Clock and NewID are replaceable in tests.
type Stager struct {
	ParmDir string
	Format  runtime.Format
	Clock   clockwork.Clock
	NewID   func() string
	Logger  *zap.SugaredLogger
}

// NewStager returns a Stager that links parameter files into parmDir.
func NewStager(parmDir string, format runtime.Format, logger *zap.SugaredLogger) *Stager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Stager{
		ParmDir: parmDir,
		Format:  format,
		Clock:   clockwork.NewRealClock(),
		NewID:   uuid.NewString,
		Logger:  logger,
	}
}

// Staged is a placed parameter file.
type Staged struct {
	RunID     string
	ParamPath string
	RunLink   string
	Links     []string
}

// Cleanup removes the per-run link. The parameter file and the project links stay behind
// as a record of the run.
func (s *Staged) Cleanup() error {
	if s.RunLink == "" {
		return nil
	}
	if err := os.Remove(s.RunLink); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove run link %s: %w", s.RunLink, err)
	}
	return nil
}

// FileName names a parameter file from the staging time and the run options.
func FileName(now time.Time, run Run, format runtime.Format) string {
	subset := 0
	if run.Subset {
		subset = 1
	}
	parts := []string{
		"params",
		now.UTC().Format("20060102150405"),
		run.Window.Start.UTC().Format(window.HourLayout),
		run.Window.End.UTC().Format(window.HourLayout),
		strings.Join(run.Aliases, "_"),
		"read", strconv.Itoa(run.SnowRead),
		"run", strconv.Itoa(run.SnowRun),
		"subset", strconv.Itoa(subset),
		"pad", strconv.Itoa(run.Pad),
	}
	return strings.Join(parts, "_") + format.Ext()
}

// Prepare creates the job, stat, plot, tmp and namelist directories of the primary project.
func Prepare(primary Layout, job string) error {
	dirs := []string{primary.StatDir(), primary.PlotDir(), primary.TmpDir(), primary.NamelistDir()}
	if job != "" {
		dirs = append(dirs, primary.JobDir(job))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}

// Stage writes p into the primary project's namelist directory, links it from every other
// project's namelist directory and adds a per-run link in the parm directory. The first
// layout is the primary project. On failure everything created so far is removed.
func (st *Stager) Stage(layouts []Layout, run Run, p *runtime.Params) (staged *Staged, err error) {
	if len(layouts) == 0 {
		return nil, fmt.Errorf("no project to stage into")
	}

	staged = &Staged{RunID: st.NewID()}
	p.RunID = staged.RunID

	defer func() {
		if err != nil {
			for _, l := range staged.Links {
				os.Remove(l)
			}
			staged.Cleanup()
			if staged.ParamPath != "" {
				os.Remove(staged.ParamPath)
			}
			staged = nil
		}
	}()

	name := FileName(st.Clock.Now(), run, st.Format)
	primary := layouts[0]
	if err := os.MkdirAll(primary.NamelistDir(), 0o755); err != nil {
		return staged, fmt.Errorf("failed to create namelist directory: %w", err)
	}

	paramPath := filepath.Join(primary.NamelistDir(), name)
	if err := runtime.WriteParamFile(paramPath, p, st.Format); err != nil {
		return staged, err
	}
	staged.ParamPath = paramPath

	for _, l := range layouts[1:] {
		if err := os.MkdirAll(l.NamelistDir(), 0o755); err != nil {
			return staged, fmt.Errorf("failed to create namelist directory: %w", err)
		}
		link := filepath.Join(l.NamelistDir(), name)
		if err := os.Symlink(paramPath, link); err != nil {
			return staged, fmt.Errorf("failed to link parameter file into %s: %w", l.Alias, err)
		}
		staged.Links = append(staged.Links, link)
	}

	if st.ParmDir != "" {
		if err := os.MkdirAll(st.ParmDir, 0o755); err != nil {
			return staged, fmt.Errorf("failed to create parm directory: %w", err)
		}
		runLink := filepath.Join(st.ParmDir, "params_"+staged.RunID+st.Format.Ext())
		if err := os.Symlink(paramPath, runLink); err != nil {
			return staged, fmt.Errorf("failed to create run link: %w", err)
		}
		staged.RunLink = runLink
	}

	st.Logger.Infow("staged run parameters", "run", staged.RunID, "path", paramPath, "links", len(staged.Links))
	return staged, nil
}

// RunPath is the path the runtime should be given: the per-run link when there is one.
func (s *Staged) RunPath() string {
	if s.RunLink != "" {
		return s.RunLink
	}
	return s.ParamPath
}

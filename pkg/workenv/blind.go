package workenv

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/manifest"
)

// JobIndexToken is replaced by the job number in blind scripts.
const JobIndexToken = "%i"

// Blind runs a user-provided script. Every %i in the script is replaced by
// the job number. With a specific file configured (filename.suffix), one
// job is created per filename_<n>.suffix file found in the work dir.
type Blind struct {
	base
	cfg manifest.BlindConfig
}

var _ Environment = (*Blind)(nil)

// Split implements Environment. The inputs are not used by blind jobs.
func (e *Blind) Split(_ []string, njobs int) ([]jobstate.WorkSpec, error) {
	if e.cfg.SpecificFile == "" {
		if njobs <= 0 {
			njobs = 1
		}
		specs := make([]jobstate.WorkSpec, njobs)
		for i := range specs {
			specs[i] = e.spec(i, nil)
		}
		return specs, nil
	}

	files, err := e.specificFiles()
	if err != nil {
		return nil, err
	}
	if njobs > 0 && njobs != len(files) {
		e.log.Warn("Ignoring njobs: one job is created per specific file",
			zap.Int("njobs", njobs), zap.Int("files", len(files)))
	}
	specs := make([]jobstate.WorkSpec, len(files))
	for i, f := range files {
		specs[i] = e.spec(i, map[string]string{ParamSpecificFile: f})
	}
	return specs, nil
}

// specificFiles finds filename_*.suffix next to that file, ordered
// by their numeric part.
func (e *Blind) specificFiles() ([]string, error) {
	dir, name := filepath.Split(e.cfg.SpecificFile)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	pattern := filepath.ToSlash(filepath.Join(dir, stem+"_*"+ext))

	matches, err := doublestar.Glob(os.DirFS(e.workDir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, configErr(e.flavor, "specific_file", "bad pattern %q: %v", pattern, err)
	}
	if len(matches) == 0 {
		return nil, configErr(e.flavor, "specific_file", "no files matching %s", pattern)
	}

	number := func(p string) int {
		s := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), stem+"_"), ext)
		n, err := strconv.Atoi(s)
		if err != nil {
			return -1
		}
		return n
	}
	slices.SortFunc(matches, func(a, b string) int {
		if c := cmp.Compare(number(a), number(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return matches, nil
}

// Materialize implements Environment.
func (e *Blind) Materialize(spec jobstate.WorkSpec) (string, error) {
	n, err := e.jobNumber(spec)
	if err != nil {
		return "", err
	}
	src, err := os.ReadFile(e.path(e.scriptSrc))
	if err != nil {
		return "", configErr(e.flavor, "script", "bash script not found: %v", err)
	}
	if f := spec.Param(ParamSpecificFile); f != "" {
		if _, err := os.Stat(e.path(f)); err != nil {
			return "", configErr(e.flavor, "specific_file", "%v", err)
		}
	}

	dir, err := e.prepareJobDir(spec)
	if err != nil {
		return "", err
	}
	content := strings.ReplaceAll(string(src), JobIndexToken, strconv.Itoa(n))
	if err := writeScript(dir, e.script, content); err != nil {
		return "", fmt.Errorf("job %s: %w", spec.Dir, err)
	}
	return e.script, nil
}

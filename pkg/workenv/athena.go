package workenv

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/jobsender/pkg/cluster"
	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/manifest"
)

// JobNumberPlusOneToken is replaced by the job number + 1 in generated
// Athena scripts (and in the jobOption / transformation arguments they
// embed).
const JobNumberPlusOneToken = "%JOBNUMBER_PLUS_ONE"

// Success markers looked for in a finished Athena job's STDOUT.
const (
	athenaSuccessJO = `INFO leaving with code 0: "successful run"`
	athenaSuccessTF = "trf exit code 0"
)

const commonFlagsImport = "from AthenaCommon.AthenaCommonFlags import athenaCommonFlags"

// TransformInputTypes are the input file types a transformation accepts.
var TransformInputTypes = []string{"ESD", "RAW", "HITS", "RDO", "AOD"}

// DefaultTransform is the transformation used when the arguments do not
// name one.
const DefaultTransform = "Reco_tf.py"

// Athena prepares ATLAS Athena jobs, either jobOption-based (athena.py) or
// as a transformation (*_tf.py). Events are split evenly across jobs.
type Athena struct {
	base
	cfg manifest.AthenaConfig
}

var (
	_ Environment = (*Athena)(nil)
	_ Verifier    = (*Athena)(nil)
)

// Split implements Environment.
func (e *Athena) Split(inputs []string, njobs int) ([]jobstate.WorkSpec, error) {
	if len(inputs) == 0 {
		return nil, configErr(e.flavor, "inputs", "no input files")
	}
	ranges, err := splitEvents(e.flavor, e.cfg.EvtMax, njobs)
	if err != nil {
		return nil, err
	}
	specs := make([]jobstate.WorkSpec, len(ranges))
	for i, r := range ranges {
		specs[i] = e.spec(i, r.params())
	}
	return specs, nil
}

// asetup is the release setup the generated scripts source.
type asetup struct {
	folder   string
	release  string
	compiler string
}

func (e *Athena) asetup() (asetup, error) {
	s := asetup{folder: e.cfg.SetupFolder, release: e.cfg.Release, compiler: e.cfg.Compiler}
	if s.folder == "" {
		s.folder = userSetupFolder(e.getenv("LD_LIBRARY_PATH"), e.getenv("USER"))
	}
	if s.folder == "" {
		return s, configErr(e.flavor, "setup_folder", "cannot find the asetup folder in LD_LIBRARY_PATH; set athena.setup_folder")
	}
	if st, err := os.Stat(s.folder); err != nil || !st.IsDir() {
		return s, configErr(e.flavor, "setup_folder", "asetup folder %s does not exist", s.folder)
	}
	if s.release == "" {
		s.release = e.getenv("AtlasVersion")
	}
	if s.release == "" {
		return s, configErr(e.flavor, "release", "AtlasVersion is not set; set athena.release")
	}
	if s.compiler == "" {
		s.compiler = compilerTag(e.getenv("CMTCONFIG"))
	}
	if s.compiler == "" {
		return s, configErr(e.flavor, "compiler", "cannot derive the compiler from CMTCONFIG; set athena.compiler")
	}
	return s, nil
}

// userSetupFolder finds the user's asetup folder: the parent of the
// InstallArea entry owned by the user in LD_LIBRARY_PATH.
func userSetupFolder(ldPath, user string) string {
	if user == "" {
		return ""
	}
	folder := ""
	for _, p := range filepath.SplitList(ldPath) {
		i := strings.Index(p, "InstallArea")
		if i > 0 && strings.Contains(p, user) {
			folder = filepath.Clean(p[:i])
		}
	}
	return folder
}

// compilerTag extracts the compiler from a CMTCONFIG platform string, e.g.
// "x86_64-slc6-gcc62-opt" gives "gcc62".
func compilerTag(cmtconfig string) string {
	for _, part := range strings.Split(cmtconfig, "-") {
		if strings.HasPrefix(part, "gcc") || strings.HasPrefix(part, "clang") {
			return part
		}
	}
	return ""
}

// Materialize implements Environment.
func (e *Athena) Materialize(spec jobstate.WorkSpec) (string, error) {
	if err := e.checkEnv(); err != nil {
		return "", err
	}
	n, err := e.jobNumber(spec)
	if err != nil {
		return "", err
	}
	skip, err1 := strconv.Atoi(spec.Param(ParamSkipEvents))
	count, err2 := strconv.Atoi(spec.Param(ParamMaxEvents))
	if err1 != nil || err2 != nil {
		return "", configErr(e.flavor, "events", "workspec %s has no event range", spec.Dir)
	}
	if len(e.inputs) == 0 {
		return "", configErr(e.flavor, "inputs", "no input files")
	}
	jo, err := os.ReadFile(e.path(e.cfg.JobOption))
	if err != nil {
		return "", configErr(e.flavor, "job_option", "jobOption file not found: %v", err)
	}
	setup, err := e.asetup()
	if err != nil {
		return "", err
	}

	dir, err := e.prepareJobDir(spec)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(e.header())
	fmt.Fprintf(&b, "cd %s\n", setup.folder)
	fmt.Fprintf(&b, "source $AtlasSetup/scripts/asetup.sh %s,%s,here %s\n", setup.release, setup.compiler, e.cfg.ExtraAsetup)
	b.WriteString("cd -\n")
	b.WriteString("tmpdir=`mktemp -d`\ncd $tmpdir;\n\n")

	if e.cfg.Mode == manifest.AthenaModeTransformation {
		tf, err := parseTransform(string(jo))
		if err != nil {
			return "", &ConfigError{Flavor: e.flavor, Field: "job_option", Err: err}
		}
		list := "fileslist_" + strings.TrimSuffix(e.script, filepath.Ext(e.script)) + ".txt"
		if err := os.WriteFile(filepath.Join(dir, list), []byte(strings.Join(e.inputs, " ")+" "), 0644); err != nil {
			return "", fmt.Errorf("write input list: %w", err)
		}
		fmt.Fprintf(&b, "%s --fileValidation False --maxEvents %d --skipEvents %d --ignoreErrors 'True' %s --input%sFile `cat %s` --output%sFile %s\n",
			tf.command, count, skip, tf.params, tf.inputType, filepath.Join(dir, list), tf.outputType, tf.outputFile)
	} else {
		joName := filepath.Base(e.cfg.JobOption)
		if err := os.WriteFile(filepath.Join(dir, joName), lockJobOption(jo, e.log), 0644); err != nil {
			return "", fmt.Errorf("write jobOption: %w", err)
		}
		fmt.Fprintf(&b, "cp %s .\n", filepath.Join(dir, joName))
		fmt.Fprintf(&b, "athena.py -c \"SkipEvents=%d; EvtMax=%d; FilesInput=%s;\" %s \n", skip, count, pyList(e.inputs), joName)
	}
	fmt.Fprintf(&b, "\ncp *.root %s/\n", dir)
	b.WriteString("rm -rf $tmpdir\n")

	script := strings.ReplaceAll(b.String(), JobNumberPlusOneToken, strconv.Itoa(n+1))
	if err := writeScript(dir, e.script, script); err != nil {
		return "", fmt.Errorf("job %s: %w", spec.Dir, err)
	}
	return e.script, nil
}

// CheckFinished implements Verifier: the job succeeded if its STDOUT ends
// with the athena or transformation success marker.
func (e *Athena) CheckFinished(spec jobstate.WorkSpec) jobstate.Status {
	f, err := os.Open(filepath.Join(e.workDir, spec.Dir, cluster.StdoutFile))
	if err != nil {
		e.log.Debug("Job log not found", zap.String("dir", spec.Dir), zap.Error(err))
		return jobstate.StatusFail
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, athenaSuccessJO) || strings.Contains(line, athenaSuccessTF) {
			return jobstate.StatusSuccess
		}
	}
	return jobstate.StatusFail
}

// lockJobOption makes the jobOption honor the per-job input files and event
// range passed with athena.py -c, by locking the athenaCommonFlags right
// after they are imported.
func lockJobOption(jo []byte, log *zap.Logger) []byte {
	lines := strings.SplitAfter(string(jo), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	at := slices.IndexFunc(lines, func(l string) bool { return strings.HasPrefix(l, commonFlagsImport) })
	if at < 0 {
		log.Warn("jobOption does not import athenaCommonFlags: input files and skipped events are not enforced")
		return jo
	}
	if !strings.HasSuffix(lines[at], "\n") {
		lines[at] += "\n"
	}
	locks := []string{
		"athenaCommonFlags.FilesInput.set_Value_and_Lock(FilesInput)\n",
		"athenaCommonFlags.SkipEvents.set_Value_and_Lock(SkipEvents)\n",
		"athenaCommonFlags.EvtMax.set_Value_and_Lock(EvtMax)\n",
	}
	lines = slices.Insert(lines, at+1, locks...)
	if last := lines[len(lines)-1]; !strings.HasSuffix(last, "\n") {
		lines[len(lines)-1] = last + "\n"
	}
	lines = append(lines,
		"\ntheApp.EvtMax=athenaCommonFlags.EvtMax()\n",
		"svcMgr.EventSelector.SkipEvents=athenaCommonFlags.SkipEvents()\n")
	return []byte(strings.Join(lines, ""))
}

// pyList renders paths as a python list literal.
func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// transform is a parsed transformation argument line.
type transform struct {
	command    string
	inputType  string
	outputType string
	outputFile string
	params     string
}

// parseTransform reads the single-line transformation arguments, e.g.
//
//	Reco_tf.py --inputHITSFile in.root --outputRDOFile out.RDO.root --preExec '...'
//
// The input file option is dropped (the job supplies its own list) and the
// output option is kept apart.
func parseTransform(content string) (transform, error) {
	line, _, _ := strings.Cut(content, "\n")
	fields := strings.Fields(line)
	tf := transform{command: DefaultTransform}

	var rest []string
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case strings.HasSuffix(f, "_tf.py") && i == 0:
			tf.command = f
		case strings.HasPrefix(f, "--input") && strings.HasSuffix(f, "File"):
			tf.inputType = strings.TrimSuffix(strings.TrimPrefix(f, "--input"), "File")
			i++
		case strings.HasPrefix(f, "--output") && strings.HasSuffix(f, "File"):
			tf.outputType = strings.TrimSuffix(strings.TrimPrefix(f, "--output"), "File")
			if i+1 < len(fields) {
				tf.outputFile = fields[i+1]
			}
			i++
		default:
			rest = append(rest, f)
		}
	}

	if tf.inputType == "" {
		return tf, fmt.Errorf("transformation arguments must include the --input<TYPE>File option")
	}
	if !slices.Contains(TransformInputTypes, tf.inputType) {
		return tf, fmt.Errorf("invalid input type %q (valid: %s)", tf.inputType, strings.Join(TransformInputTypes, ", "))
	}
	if tf.outputType == "" || tf.outputFile == "" {
		return tf, fmt.Errorf("transformation arguments must include the --output<TYPE>File option")
	}
	tf.params = strings.Join(rest, " ")
	return tf, nil
}

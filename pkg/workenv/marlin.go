package workenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/manifest"
)

// AlibavaConverterType is the processor that reads raw Alibava data.
const AlibavaConverterType = "AlibavaConverter"

// Marlin prepares ILC Marlin (EUTelescope) jobs. The steering file's
// global parameters are rewritten for the batch; the per-job event range is
// passed on the Marlin command line.
//
// In Alibava conversion mode a single job is created and the inputs are
// routed to the AlibavaConverter processor instead of LCIOInputFiles.
type Marlin struct {
	base
	cfg manifest.MarlinConfig
}

var _ Environment = (*Marlin)(nil)

// Split implements Environment.
func (e *Marlin) Split(inputs []string, njobs int) ([]jobstate.WorkSpec, error) {
	if len(inputs) == 0 {
		return nil, configErr(e.flavor, "inputs", "no input files")
	}
	if e.cfg.AlibavaConversion {
		return []jobstate.WorkSpec{e.spec(0, eventRange{count: e.cfg.EvtMax}.params())}, nil
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

// backupName turns steer.xml into steer_bck.xml.
func backupName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_bck" + ext
}

// Materialize implements Environment.
func (e *Marlin) Materialize(spec jobstate.WorkSpec) (string, error) {
	if err := e.checkEnv(); err != nil {
		return "", err
	}
	if len(e.inputs) == 0 {
		return "", configErr(e.flavor, "inputs", "no input files")
	}
	skip, err1 := strconv.Atoi(spec.Param(ParamSkipEvents))
	count, err2 := strconv.Atoi(spec.Param(ParamMaxEvents))
	if err1 != nil || err2 != nil {
		return "", configErr(e.flavor, "events", "workspec %s has no event range", spec.Dir)
	}

	template, err := os.ReadFile(e.path(e.cfg.SteeringFile))
	if err != nil {
		return "", configErr(e.flavor, "steering_file", "steering file not found: %v", err)
	}
	gear := e.path(e.cfg.GearFile)
	if _, err := os.Stat(gear); err != nil {
		return "", configErr(e.flavor, "gear_file", "gear file not found: %v", err)
	}
	steer, err := e.rewriteSteering(template, gear)
	if err != nil {
		return "", err
	}

	dir, err := e.prepareJobDir(spec)
	if err != nil {
		return "", err
	}
	steerName := filepath.Base(e.cfg.SteeringFile)
	if err := os.WriteFile(filepath.Join(dir, backupName(steerName)), template, 0644); err != nil {
		return "", fmt.Errorf("write steering backup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, steerName), steer, 0644); err != nil {
		return "", fmt.Errorf("write steering file: %w", err)
	}

	inputs := strings.Join(e.inputs, " ")
	args := []string{"--global.GearXMLFile=" + gear}
	if !e.cfg.AlibavaConversion {
		args = append(args,
			fmt.Sprintf("--global.MaxRecordNumber=%d", count),
			fmt.Sprintf("--global.SkipNEvents=%d", skip),
			fmt.Sprintf("--global.LCIOInputFiles=%q", inputs))
	}

	var b strings.Builder
	b.WriteString(e.header())
	b.WriteString("# Assuming job propagated environment variables. No setup.\n")
	b.WriteString("tmpdir=`mktemp -d`\ncd $tmpdir;\n\n")
	fmt.Fprintf(&b, "cp %s .\n", filepath.Join(dir, steerName))
	fmt.Fprintf(&b, "Marlin %s %s\n", strings.Join(args, " "), steerName)
	fmt.Fprintf(&b, "\ncp *.root *.slcio %s/\n", dir)
	b.WriteString("rm -rf $tmpdir\n")

	if err := writeScript(dir, e.script, b.String()); err != nil {
		return "", fmt.Errorf("job %s: %w", spec.Dir, err)
	}
	return e.script, nil
}

// rewriteSteering fills in the batch-wide global parameters.
func (e *Marlin) rewriteSteering(template []byte, gear string) ([]byte, error) {
	s, err := parseSteering(template)
	if err != nil {
		return nil, &ConfigError{Flavor: e.flavor, Field: "steering_file", Err: err}
	}
	inputs := strings.Join(e.inputs, " ")

	s.setGlobal("MaxRecordNumber", strconv.Itoa(e.cfg.EvtMax), false)
	s.setGlobal("SkipNEvents", "0", false)
	s.setGlobal("GearXMLFile", gear, false)
	s.setGlobal("LCIOInputFiles", inputs, true)

	if e.cfg.AlibavaConversion {
		conv, err := s.activeProcessor(AlibavaConverterType)
		if err != nil {
			return nil, &ConfigError{Flavor: e.flavor, Field: "steering_file", Err: err}
		}
		s.setGlobal("LCIOInputFiles", "", true)
		s.setGlobal("MaxRecordNumber", "", true)
		setParameter(conv, "InputFileName", inputs, true)
	}
	return s.bytes()
}

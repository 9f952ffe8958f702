package workenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobsender/pkg/cluster"
	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/manifest"
)

func fixedNow() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func envFrom(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestSplitEvents(t *testing.T) {
	tests := []struct {
		name    string
		evtmax  int
		njobs   int
		want    []eventRange
		wantErr bool
	}{
		{name: "even", evtmax: 100, njobs: 4, want: []eventRange{{0, 25}, {25, 25}, {50, 25}, {75, 25}}},
		{name: "remainder to last", evtmax: 10, njobs: 3, want: []eventRange{{0, 3}, {3, 3}, {6, 4}}},
		{name: "single job", evtmax: 7, njobs: 1, want: []eventRange{{0, 7}}},
		{name: "default per 500", evtmax: 1200, njobs: 0, want: []eventRange{{0, 600}, {600, 600}}},
		{name: "default at least one", evtmax: 100, njobs: 0, want: []eventRange{{0, 100}}},
		{name: "more jobs than events", evtmax: 2, njobs: 3, wantErr: true},
		{name: "no events", evtmax: 0, njobs: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitEvents("athena", tt.evtmax, tt.njobs)
			if tt.wantErr {
				assert.True(t, IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_Flavors(t *testing.T) {
	dir := t.TempDir()
	for _, tt := range []struct {
		m     *manifest.Manifest
		alias string
	}{
		{m: &manifest.Manifest{Name: "b", Blind: &manifest.BlindConfig{}}, alias: "Blind"},
		{m: &manifest.Manifest{Name: "a", Athena: &manifest.AthenaConfig{EvtMax: 1}}, alias: "Athena"},
		{m: &manifest.Manifest{Name: "m", Marlin: &manifest.MarlinConfig{EvtMax: 1}}, alias: "Marlin"},
	} {
		env, err := New(tt.m, Options{WorkDir: dir})
		require.NoError(t, err)
		assert.Equal(t, tt.alias, env.Alias())
		assert.Equal(t, tt.m.Flavor(), env.Flavor())
	}

	_, err := New(&manifest.Manifest{Name: "none"}, Options{WorkDir: dir})
	assert.Error(t, err)
}

func TestBlind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "calib.sh", "#!/bin/bash\necho job %i\nrun --seed %i\n")

	env, err := New(&manifest.Manifest{Name: "calib", Blind: &manifest.BlindConfig{}}, Options{WorkDir: dir})
	require.NoError(t, err)

	specs, err := env.Split(nil, 3)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "BlindJob_calib_2", specs[2].Dir)
	assert.Equal(t, "2", specs[2].Param(ParamJob))

	script, err := env.Materialize(specs[2])
	require.NoError(t, err)
	assert.Equal(t, "calib.sh", script)

	path := filepath.Join(dir, specs[2].Dir, script)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\necho job 2\nrun --seed 2\n", string(content))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, st.Mode()&0100, "script must be executable")

	// Re-materializing (reconfigure) overwrites the job directory in place.
	_, err = env.Materialize(specs[2])
	require.NoError(t, err)
}

func TestBlind_ScriptInSubdirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filepath.Join("scripts", "run.sh"), "echo run %i\n")

	m := &manifest.Manifest{Name: "calib", Script: "scripts/run.sh", Blind: &manifest.BlindConfig{}}
	env, err := New(m, Options{WorkDir: dir})
	require.NoError(t, err)
	specs, err := env.Split(nil, 2)
	require.NoError(t, err)

	script, err := env.Materialize(specs[1])
	require.NoError(t, err)
	assert.Equal(t, "run.sh", script)

	content, err := os.ReadFile(filepath.Join(dir, specs[1].Dir, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, "echo run 1\n", string(content))
	assert.NoDirExists(t, filepath.Join(dir, specs[1].Dir, "scripts"))
}

func TestBlind_DefaultsToOneJob(t *testing.T) {
	env, err := New(&manifest.Manifest{Name: "x", Blind: &manifest.BlindConfig{}}, Options{WorkDir: t.TempDir()})
	require.NoError(t, err)
	specs, err := env.Split(nil, 0)
	require.NoError(t, err)
	assert.Len(t, specs, 1)
}

func TestBlind_SpecificFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "job.sh", "cat cfg/params_%i.txt\n")
	for _, n := range []string{"params_10.txt", "params_2.txt", "params_1.txt", "other_3.txt"} {
		writeFile(t, dir, filepath.Join("cfg", n), n)
	}

	m := &manifest.Manifest{Name: "job", Blind: &manifest.BlindConfig{SpecificFile: "cfg/params.txt"}}
	env, err := New(m, Options{WorkDir: dir})
	require.NoError(t, err)

	specs, err := env.Split(nil, 0)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "cfg/params_1.txt", specs[0].Param(ParamSpecificFile))
	assert.Equal(t, "cfg/params_2.txt", specs[1].Param(ParamSpecificFile))
	assert.Equal(t, "cfg/params_10.txt", specs[2].Param(ParamSpecificFile))

	missing := &manifest.Manifest{Name: "job", Blind: &manifest.BlindConfig{SpecificFile: "cfg/none.txt"}}
	env, err = New(missing, Options{WorkDir: dir})
	require.NoError(t, err)
	_, err = env.Split(nil, 0)
	assert.True(t, IsConfigError(err))
}

func TestBlind_MissingScript(t *testing.T) {
	dir := t.TempDir()
	env, err := New(&manifest.Manifest{Name: "ghost", Blind: &manifest.BlindConfig{}}, Options{WorkDir: dir})
	require.NoError(t, err)
	specs, err := env.Split(nil, 1)
	require.NoError(t, err)

	_, err = env.Materialize(specs[0])
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "script", cerr.Field)
	assert.NoDirExists(t, filepath.Join(dir, specs[0].Dir))
}

// athenaSetup prepares a work dir with a jobOption and an asetup folder.
func athenaSetup(t *testing.T) (string, map[string]string) {
	t.Helper()
	dir := t.TempDir()
	setup := filepath.Join(dir, "testarea")
	require.NoError(t, os.MkdirAll(setup, 0755))
	writeFile(t, dir, "digi.py", "from AthenaCommon.AthenaCommonFlags import athenaCommonFlags\ninclude('Digitization.py')\n")
	writeFile(t, dir, "reco_args.txt", "Reco_tf.py --inputHITSFile foo.root --outputRDOFile out_%JOBNUMBER_PLUS_ONE.RDO.root --preExec 'x=1'\n")
	return dir, map[string]string{
		"AtlasSetup":      "/cvmfs/atlas.cern.ch/repo/sw/software/AtlasSetup",
		"CMTCONFIG":       "x86_64-slc6-gcc62-opt",
		"AtlasVersion":    "21.0.20",
		"USER":            "jdoe",
		"LD_LIBRARY_PATH": "/usr/lib:/home/jdoe/testarea/InstallArea/lib",
	}
}

func TestAthena_JobOptionMode(t *testing.T) {
	dir, vars := athenaSetup(t)
	m := &manifest.Manifest{
		Name:   "digi",
		Inputs: []string{"/data/a.root", "/data/b.root"},
		Athena: &manifest.AthenaConfig{
			Mode: manifest.AthenaModeJobOption, JobOption: "digi.py", EvtMax: 1000,
			SetupFolder: filepath.Join(dir, "testarea"),
		},
	}
	env, err := New(m, Options{WorkDir: dir, Getenv: envFrom(vars), Now: fixedNow})
	require.NoError(t, err)

	specs, err := env.Split(m.Inputs, 4)
	require.NoError(t, err)
	require.Len(t, specs, 4)
	assert.Equal(t, "AthenaJob_digi_1", specs[1].Dir)
	assert.Equal(t, "250", specs[1].Param(ParamSkipEvents))

	script, err := env.Materialize(specs[1])
	require.NoError(t, err)
	assert.Equal(t, "digi.sh", script)

	jobDir := filepath.Join(dir, specs[1].Dir)
	content, err := os.ReadFile(filepath.Join(jobDir, script))
	require.NoError(t, err)
	s := string(content)
	assert.Contains(t, s, "# File created by jobsender (athena) [2024-03-01 12:00:00]")
	assert.Contains(t, s, "source $AtlasSetup/scripts/asetup.sh 21.0.20,gcc62,here")
	assert.Contains(t, s, `athena.py -c "SkipEvents=250; EvtMax=250; FilesInput=['/data/a.root', '/data/b.root'];" digi.py`)
	assert.Contains(t, s, "cp *.root "+jobDir+"/")

	jo, err := os.ReadFile(filepath.Join(jobDir, "digi.py"))
	require.NoError(t, err)
	lines := strings.Split(string(jo), "\n")
	assert.Equal(t, "athenaCommonFlags.FilesInput.set_Value_and_Lock(FilesInput)", lines[1])
	assert.Contains(t, string(jo), "svcMgr.EventSelector.SkipEvents=athenaCommonFlags.SkipEvents()")
}

func TestAthena_TransformMode(t *testing.T) {
	dir, vars := athenaSetup(t)
	m := &manifest.Manifest{
		Name:   "reco",
		Inputs: []string{"/data/a.HITS.root"},
		Athena: &manifest.AthenaConfig{
			Mode: manifest.AthenaModeTransformation, JobOption: "reco_args.txt", EvtMax: 100,
			SetupFolder: filepath.Join(dir, "testarea"),
		},
	}
	env, err := New(m, Options{WorkDir: dir, Getenv: envFrom(vars), Now: fixedNow})
	require.NoError(t, err)

	specs, err := env.Split(m.Inputs, 2)
	require.NoError(t, err)
	_, err = env.Materialize(specs[1])
	require.NoError(t, err)

	jobDir := filepath.Join(dir, specs[1].Dir)
	content, err := os.ReadFile(filepath.Join(jobDir, "reco.sh"))
	require.NoError(t, err)
	s := string(content)
	assert.Contains(t, s, "Reco_tf.py --fileValidation False --maxEvents 50 --skipEvents 50 --ignoreErrors 'True' --preExec 'x=1' --inputHITSFile `cat "+filepath.Join(jobDir, "fileslist_reco.txt")+"` --outputRDOFile out_2.RDO.root")
	assert.NotContains(t, s, "foo.root")

	list, err := os.ReadFile(filepath.Join(jobDir, "fileslist_reco.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/data/a.HITS.root ", string(list))
}

func TestAthena_MissingEnvironment(t *testing.T) {
	dir, vars := athenaSetup(t)
	delete(vars, "CMTCONFIG")
	m := &manifest.Manifest{
		Name: "digi", Inputs: []string{"/data/a.root"},
		Athena: &manifest.AthenaConfig{Mode: "jo", JobOption: "digi.py", EvtMax: 10},
	}
	env, err := New(m, Options{WorkDir: dir, Getenv: envFrom(vars)})
	require.NoError(t, err)
	specs, err := env.Split(m.Inputs, 1)
	require.NoError(t, err)

	_, err = env.Materialize(specs[0])
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "CMTCONFIG", cerr.Field)
	assert.Contains(t, err.Error(), "asetup")
}

func TestAthena_CheckFinished(t *testing.T) {
	dir := t.TempDir()
	m := &manifest.Manifest{Name: "digi", Athena: &manifest.AthenaConfig{EvtMax: 10}}
	env, err := New(m, Options{WorkDir: dir})
	require.NoError(t, err)
	v, ok := env.(Verifier)
	require.True(t, ok)

	ok1 := jobstate.WorkSpec{Dir: "AthenaJob_digi_0"}
	writeFile(t, dir, filepath.Join(ok1.Dir, cluster.StdoutFile), "Py:Athena            INFO leaving with code 0: \"successful run\"\n")
	assert.Equal(t, jobstate.StatusSuccess, v.CheckFinished(ok1))

	tf := jobstate.WorkSpec{Dir: "AthenaJob_digi_1"}
	writeFile(t, dir, filepath.Join(tf.Dir, cluster.StdoutFile), "PyJobTransforms.main  trf exit code 0\n")
	assert.Equal(t, jobstate.StatusSuccess, v.CheckFinished(tf))

	crashed := jobstate.WorkSpec{Dir: "AthenaJob_digi_2"}
	writeFile(t, dir, filepath.Join(crashed.Dir, cluster.StdoutFile), "segmentation violation\n")
	assert.Equal(t, jobstate.StatusFail, v.CheckFinished(crashed))

	assert.Equal(t, jobstate.StatusFail, v.CheckFinished(jobstate.WorkSpec{Dir: "AthenaJob_digi_3"}))
}

func TestParseTransform(t *testing.T) {
	tf, err := parseTransform("Digi_tf.py --inputHITSFile x --outputRDOFile y.root --digiSeedOffset1 %JOBNUMBER_PLUS_ONE")
	require.NoError(t, err)
	assert.Equal(t, "Digi_tf.py", tf.command)
	assert.Equal(t, "HITS", tf.inputType)
	assert.Equal(t, "RDO", tf.outputType)
	assert.Equal(t, "y.root", tf.outputFile)
	assert.Equal(t, "--digiSeedOffset1 %JOBNUMBER_PLUS_ONE", tf.params)

	_, err = parseTransform("--outputAODFile y.root")
	assert.Error(t, err)
	_, err = parseTransform("--inputEVNTFile x --outputAODFile y.root")
	assert.ErrorContains(t, err, "invalid input type")
	_, err = parseTransform("--inputESDFile x")
	assert.ErrorContains(t, err, "--output")
}

func TestUserSetupFolderAndCompiler(t *testing.T) {
	assert.Equal(t, "/home/jdoe/area", userSetupFolder("/usr/lib:/home/jdoe/area/InstallArea/x86_64/lib", "jdoe"))
	assert.Equal(t, "", userSetupFolder("/usr/lib:/opt/InstallArea/lib", "jdoe"))
	assert.Equal(t, "gcc62", compilerTag("x86_64-slc6-gcc62-opt"))
	assert.Equal(t, "", compilerTag("x86_64-slc6"))
}

const steeringTemplate = `<?xml version="1.0" encoding="us-ascii"?>
<marlin xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:noNamespaceSchemaLocation="http://ilcsoft.desy.de/marlin/marlin.xsd">
  <execute>
    <processor name="MyAlibavaConverter"/>
  </execute>
  <global>
    <parameter name="LCIOInputFiles"> old.slcio </parameter>
    <parameter name="MaxRecordNumber" value="5"/>
    <parameter name="Verbosity" value="MESSAGE"/>
  </global>
  <processor name="MyAlibavaConverter" type="AlibavaConverter">
    <parameter name="InputFileName" type="string" value="raw.dat"/>
  </processor>
</marlin>
`

func marlinSetup(t *testing.T, alibava bool) (Environment, *manifest.Manifest, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "steer.xml", steeringTemplate)
	writeFile(t, dir, "gear.xml", "<gear/>")
	m := &manifest.Manifest{
		Name:   "tel",
		Inputs: []string{"/data/run1.slcio", "/data/run2.slcio"},
		Marlin: &manifest.MarlinConfig{SteeringFile: "steer.xml", GearFile: "gear.xml", EvtMax: 1000, AlibavaConversion: alibava},
	}
	env, err := New(m, Options{WorkDir: dir, Getenv: envFrom(map[string]string{"MARLIN": "/opt/marlin"}), Now: fixedNow})
	require.NoError(t, err)
	return env, m, dir
}

func TestMarlin(t *testing.T) {
	env, m, dir := marlinSetup(t, false)

	specs, err := env.Split(m.Inputs, 2)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	script, err := env.Materialize(specs[1])
	require.NoError(t, err)
	jobDir := filepath.Join(dir, specs[1].Dir)

	content, err := os.ReadFile(filepath.Join(jobDir, script))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Marlin --global.GearXMLFile="+filepath.Join(dir, "gear.xml")+
		` --global.MaxRecordNumber=500 --global.SkipNEvents=500 --global.LCIOInputFiles="/data/run1.slcio /data/run2.slcio" steer.xml`)

	steer, err := os.ReadFile(filepath.Join(jobDir, "steer.xml"))
	require.NoError(t, err)
	s, err := parseSteering(steer)
	require.NoError(t, err)
	global := s.root.child("global")
	params := map[string]*xmlNode{}
	for _, p := range global.children("parameter") {
		params[p.attr("name")] = p
	}
	assert.Equal(t, "1000", params["MaxRecordNumber"].attr("value"))
	assert.Equal(t, "0", params["SkipNEvents"].attr("value"))
	assert.Equal(t, "/data/run1.slcio /data/run2.slcio", params["LCIOInputFiles"].Text)
	assert.Equal(t, "MESSAGE", params["Verbosity"].attr("value"))
	assert.Contains(t, string(steer), `xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`)

	backup, err := os.ReadFile(filepath.Join(jobDir, "steer_bck.xml"))
	require.NoError(t, err)
	assert.Equal(t, steeringTemplate, string(backup))
}

func TestMarlin_AlibavaConversion(t *testing.T) {
	env, m, dir := marlinSetup(t, true)

	specs, err := env.Split(m.Inputs, 5)
	require.NoError(t, err)
	require.Len(t, specs, 1, "conversion runs as a single job")

	_, err = env.Materialize(specs[0])
	require.NoError(t, err)
	jobDir := filepath.Join(dir, specs[0].Dir)

	content, err := os.ReadFile(filepath.Join(jobDir, "tel.sh"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "LCIOInputFiles")
	assert.NotContains(t, string(content), "MaxRecordNumber")

	steer, err := os.ReadFile(filepath.Join(jobDir, "steer.xml"))
	require.NoError(t, err)
	s, err := parseSteering(steer)
	require.NoError(t, err)
	conv, err := s.activeProcessor(AlibavaConverterType)
	require.NoError(t, err)
	var input *xmlNode
	for _, p := range conv.children("parameter") {
		if p.attr("name") == "InputFileName" {
			input = p
		}
	}
	require.NotNil(t, input)
	assert.Equal(t, "/data/run1.slcio /data/run2.slcio", input.Text)
	assert.Equal(t, "", input.attr("value"))
}

func TestMarlin_Errors(t *testing.T) {
	t.Run("missing MARLIN", func(t *testing.T) {
		dir := t.TempDir()
		m := &manifest.Manifest{Name: "tel", Inputs: []string{"x"}, Marlin: &manifest.MarlinConfig{SteeringFile: "s.xml", GearFile: "gear.xml", EvtMax: 10}}
		env, err := New(m, Options{WorkDir: dir, Getenv: envFrom(nil)})
		require.NoError(t, err)
		specs, err := env.Split(m.Inputs, 1)
		require.NoError(t, err)
		_, err = env.Materialize(specs[0])
		assert.True(t, IsConfigError(err))
	})

	t.Run("inactive converter", func(t *testing.T) {
		s, err := parseSteering([]byte(`<marlin><execute/><global/><processor name="c" type="AlibavaConverter"/></marlin>`))
		require.NoError(t, err)
		_, err = s.activeProcessor(AlibavaConverterType)
		assert.ErrorContains(t, err, "not activated")
	})

	t.Run("not a steering file", func(t *testing.T) {
		_, err := parseSteering([]byte(`<gear/>`))
		assert.Error(t, err)
	})
}

func TestRequiredEnv(t *testing.T) {
	assert.Empty(t, RequiredEnv(manifest.FlavorBlind))
	assert.Equal(t, "MARLIN", RequiredEnv(manifest.FlavorMarlin)[0].Name)
	assert.Len(t, RequiredEnv(manifest.FlavorAthena), 2)
}

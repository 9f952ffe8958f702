package cmd

import (
	"github.com/spf13/cobra"

	"github.com/3leaps/jobsender/pkg/cluster"
	"github.com/3leaps/jobsender/pkg/jobset"
)

var (
	retrieveJobs    string
	resubmitJobs    string
	reconfigureJobs string
	killJobs        string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Refresh job states from the scheduler",
	Long: `Query the scheduler for the jobs that are on the cluster and record
their progress. Finished jobs are checked against their outputs and marked
finished/success or finished/fail.

Examples:
  clustermanager retrieve
  clustermanager retrieve -j 0-9 --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runLifecycle(cmd, jobset.OpRetrieve, retrieveJobs, true, true)
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit",
	Short: "Submit failed, aborted or unsent jobs again",
	Long: `Submit jobs again. Without --jobs, resubmit picks the jobs that finished
with a failure, the aborted jobs and the configured jobs never sent.

Examples:
  clustermanager resubmit
  clustermanager resubmit -j 4,11-13`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runLifecycle(cmd, jobset.OpResubmit, resubmitJobs, true, true)
	},
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure",
	Short: "Rewrite job directories",
	Long: `Write the job directory and script of jobs again from the batch manifest.
Without --jobs, only jobs whose configuration failed are rewritten.

Examples:
  clustermanager reconfigure
  clustermanager reconfigure -j 3`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runLifecycle(cmd, jobset.OpReconfigure, reconfigureJobs, true, false)
	},
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Remove jobs from the scheduler",
	Long: `Remove jobs from the scheduler and mark them aborted. Without --jobs,
every job still on the cluster is killed.

Examples:
  clustermanager kill
  clustermanager kill -j 2,4`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runLifecycle(cmd, jobset.OpKill, killJobs, false, true)
	},
}

func init() {
	rootCmd.AddCommand(retrieveCmd, resubmitCmd, reconfigureCmd, killCmd)

	retrieveCmd.Flags().StringVarP(&retrieveJobs, "jobs", "j", "", "Jobs to query (e.g. 1,3,5-7)")
	resubmitCmd.Flags().StringVarP(&resubmitJobs, "jobs", "j", "", "Jobs to resubmit (e.g. 1,3,5-7)")
	reconfigureCmd.Flags().StringVarP(&reconfigureJobs, "jobs", "j", "", "Jobs to reconfigure (e.g. 1,3,5-7)")
	killCmd.Flags().StringVarP(&killJobs, "jobs", "j", "", "Jobs to kill (e.g. 1,3,5-7)")
}

// runLifecycle runs one controller operation on the batch of the work dir.
// needEnv and needCluster say which collaborators the operation uses.
func runLifecycle(cmd *cobra.Command, op, jobs string, needEnv, needCluster bool) error {
	b, err := openBatch()
	if err != nil {
		return err
	}
	sel, err := selection(jobs)
	if err != nil {
		return err
	}

	var env jobset.Environment
	if needEnv {
		e, err := b.environment()
		if err != nil {
			return err
		}
		env = e
	}
	var adapter cluster.Adapter
	if needCluster {
		a, err := b.adapter(cmd)
		if err != nil {
			return err
		}
		adapter = a
	}

	ctrl := b.controller(adapter, env)
	ctx := cmd.Context()
	var rep jobset.Report
	switch op {
	case jobset.OpRetrieve:
		rep = ctrl.Retrieve(ctx, b.store, sel)
	case jobset.OpResubmit:
		rep = ctrl.Resubmit(ctx, b.store, sel)
	case jobset.OpReconfigure:
		rep = ctrl.Reconfigure(ctx, b.store, sel)
	case jobset.OpKill:
		rep = ctrl.Kill(ctx, b.store, sel)
	}
	return b.finish(cmd, rep)
}

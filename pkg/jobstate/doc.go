// Package jobstate holds the persisted job records of one batch.
//
// A batch lives in a work dir. Its only durable record is the state file
// (.presentjobs), rewritten in full after every operation:
//
//	<workdir>/.presentjobs
//	<workdir>/<Alias>Job_<name>_<index>/...
//
// Records move through the states
//
//	unset -> configured -> submitted -> running -> finished{success|fail}
//
// with aborted reachable from submitted, running, or imposed by a kill. A
// record carries a backend handle exactly when it is submitted, running,
// finished or aborted, and a status exactly when it is finished.
package jobstate

// Package scheduler owns named triggers: cron expressions, fixed intervals and
// one-shot instants. It only decides when a job fires; every fire is handed to
// the task engine, which runs it and reports STARTED, SUCCEEDED or FAILED to
// the job's listeners.
package scheduler

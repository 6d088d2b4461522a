// Package jobs runs goIdentity maintenance as asynq tasks.
//
// The session:sweep task calls Engine.SweepExpiredSessions. [NewWorker]
// serves it and, when a cron spec is given, schedules it periodically.
package jobs

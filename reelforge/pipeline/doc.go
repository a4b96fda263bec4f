// Package pipeline runs video generation jobs.
//
// An Orchestrator owns every active job. Submit validates the script, queues
// the job and runs it in a panic-safe goroutine: each scene fans its Voice,
// Visual and Overlay stages out concurrently, and once every scene has its
// three results Assembly composes the final video. Each stage completion
// emits an Event carrying the fraction of finished scenes.
//
// Job lifecycle:
//
//	queued -> running -> completed | failed | cancelled
//
// Cancel stops a job at its next suspension point and always ends it as
// cancelled. A job fails only when Assembly fails, a stage reports
// resource.ErrResourceExhausted, a fallback cannot be synthesized, the job
// timeout expires or a goroutine panics. Terminal jobs leave the active set
// and are archived to a jobstore.Store.
package pipeline

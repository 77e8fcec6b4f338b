package tasks

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the serve command to keep the posts table in sync with the
// configured feeds.
//
//	scheduler := NewScheduler(feedConfigs, postRepo, httpClient, parser, filterer, extractor, options)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/database"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultInterval    = 30 * time.Minute
	DefaultWorkerCount = 1
	taskTimeout        = 5 * time.Minute
)

type SchedulerOptions struct {
	Interval    time.Duration
	WorkerCount int
	UserAgent   string
}

type Scheduler struct {
	feedConfigs []*feed.Config
	postRepo    database.PostRepository
	httpClient  *http.Client
	parser      *feed.Parser
	filterer    *feed.Filterer
	extractor   *feed.ContentExtractor
	userAgent   string
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

func NewScheduler(feedConfigs []*feed.Config, postRepo database.PostRepository, httpClient *http.Client,
	parser *feed.Parser, filterer *feed.Filterer, extractor *feed.ContentExtractor, opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = DefaultWorkerCount
	}

	return &Scheduler{
		feedConfigs: feedConfigs,
		postRepo:    postRepo,
		httpClient:  httpClient,
		parser:      parser,
		filterer:    filterer,
		extractor:   extractor,
		userAgent:   opts.UserAgent,
		interval:    opts.Interval,
		workerCount: opts.WorkerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 100),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueTasks() {
	if len(s.feedConfigs) == 0 {
		slog.Debug("No feed configurations found")
		return
	}

	slog.Debug("Scheduling feed imports", "count", len(s.feedConfigs))

	if _, err := s.EnqueueImports(); err != nil {
		slog.Warn("Failed to enqueue ImportFeedTask", "error", err)
	}
}

// EnqueueImports queues one ImportFeedTask per configured feed and returns
// the tasks that were accepted.
func (s *Scheduler) EnqueueImports() ([]TaskInterface, error) {
	var queued []TaskInterface
	var errs []error

	for _, feedConfig := range s.feedConfigs {
		task := NewImportFeedTask(feedConfig, s.httpClient, s.parser, s.filterer, s.extractor, s.postRepo, s.userAgent)
		if err := s.EnqueueTask(task); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", feedConfig.URL, err))
			continue
		}
		queued = append(queued, task)
	}

	return queued, errors.Join(errs...)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	delay := RetryDelay(task.GetRetryCount())

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedURL(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-timer.C:
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}

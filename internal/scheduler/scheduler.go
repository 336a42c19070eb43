package scheduler

import (
	"time"

	"query-sphere/internal/logger"

	"github.com/go-co-op/gocron"
)

// Scheduler runs named background jobs on fixed intervals.
type Scheduler struct {
	scheduler *gocron.Scheduler
}

func New() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	// a slow run is skipped rather than stacked
	s.SingletonModeAll()

	return &Scheduler{scheduler: s}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// ScheduleInterval schedules a job to run at regular intervals. The first
// run happens one interval after Start.
func (s *Scheduler) ScheduleInterval(tag string, every time.Duration, job func() error) error {
	_, err := s.scheduler.Every(every).Tag(tag).WaitForSchedule().Do(func() {
		if err := job(); err != nil {
			logger.Error("Scheduled job failed", "job", tag, "error", err)
		}
	})
	return err
}

// RemoveJob removes a scheduled job by tag
func (s *Scheduler) RemoveJob(tag string) error {
	return s.scheduler.RemoveByTag(tag)
}

// Jobs returns the tags of all scheduled jobs
func (s *Scheduler) Jobs() []string {
	var tags []string
	for _, j := range s.scheduler.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}

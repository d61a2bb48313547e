package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
)

// beatSpecs is the cron beat table, evaluated in the configured timezone.
var beatSpecs = map[string]string{
	JobFacebookSync: "0 2 * * *",
	JobAIEnrich:     "0 3 * * *",
}

// BeatSpec returns the cron expression of a beat-scheduled job.
func BeatSpec(jobName string) (string, bool) {
	spec, ok := beatSpecs[jobName]
	return spec, ok
}

// Schedule predicts the next fire times of beat-scheduled jobs.
type Schedule struct {
	entries map[string]cron.Schedule
	loc     *time.Location
}

func NewSchedule(loc *time.Location) (*Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	entries := make(map[string]cron.Schedule, len(beatSpecs))
	for job, spec := range beatSpecs {
		parsed, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, eris.Wrapf(err, "jobs: parse beat schedule for %s", job)
		}
		entries[job] = parsed
	}
	return &Schedule{entries: entries, loc: loc}, nil
}

// Next returns the job's next fire time, or nil when the job is not on
// the beat.
func (s *Schedule) Next(jobName string, now time.Time) *time.Time {
	entry, ok := s.entries[jobName]
	if !ok {
		return nil
	}
	next := entry.Next(now.In(s.loc))
	return &next
}

// All reports every beat job's next fire time plus the earliest of them.
func (s *Schedule) All(now time.Time) (map[string]*time.Time, *time.Time) {
	out := make(map[string]*time.Time, len(s.entries))
	var earliest *time.Time
	for job := range s.entries {
		next := s.Next(job, now)
		out[job] = next
		if next != nil && (earliest == nil || next.Before(*earliest)) {
			earliest = next
		}
	}
	return out, earliest
}

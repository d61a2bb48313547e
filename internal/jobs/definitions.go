// Package jobs is the collection job runner: a registry of job
// definitions, an enqueue path that materializes ledger runs, and a
// scoped tracker that seals them.
package jobs

import (
	"github.com/sells-group/saleslist-enrich/internal/model"
)

// Registered job names. The clone.* names are the collection jobs; ai.enrich
// is the scheduled AI pass.
const (
	JobCorporateNumber = "clone.corporate_number"
	JobOpenData        = "clone.opendata"
	JobFacebookSync    = "clone.facebook_sync"
	JobAIEnrich        = "ai.enrich"
	JobAIStub          = "clone.ai_stub"
)

// TaskType is the queue task name for a job.
func TaskType(jobName string) string { return "collect:" + jobName }

// Definitions returns the static job registry.
func Definitions() []model.JobDefinition {
	return []model.JobDefinition{
		{
			Name:               JobCorporateNumber,
			Label:              "法人番号収集",
			TaskType:           TaskType(JobCorporateNumber),
			DefaultSources:     []string{"nta-api"},
			SupportsCompanyIDs: true,
			Enabled:            true,
		},
		{
			Name:               JobOpenData,
			Label:              "オープンデータ取込",
			TaskType:           TaskType(JobOpenData),
			DefaultSources:     []string{"opendata"},
			SupportsCompanyIDs: true,
			SupportsSourceKeys: true,
			Enabled:            true,
		},
		{
			Name:            JobFacebookSync,
			Label:           "Facebook同期",
			TaskType:        TaskType(JobFacebookSync),
			DefaultSources:  []string{"facebook"},
			BeatScheduleKey: JobFacebookSync,
			Enabled:         true,
		},
		{
			Name:               JobAIEnrich,
			Label:              "AIエンリッチ",
			TaskType:           TaskType(JobAIEnrich),
			DefaultSources:     []string{"powerplexy"},
			SupportsCompanyIDs: true,
			BeatScheduleKey:    JobAIEnrich,
			Enabled:            true,
		},
		{
			Name:           JobAIStub,
			Label:          "AIスタブ",
			TaskType:       TaskType(JobAIStub),
			DefaultSources: []string{"stub"},
			Enabled:        true,
		},
	}
}

// Lookup finds a definition by name.
func Lookup(name string) (model.JobDefinition, bool) {
	for _, def := range Definitions() {
		if def.Name == name {
			return def, true
		}
	}
	return model.JobDefinition{}, false
}

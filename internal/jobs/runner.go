package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

// Options are the operator-provided knobs of one job invocation.
type Options struct {
	CompanyIDs        []int64  `json:"company_ids,omitempty"`
	SourceKeys        []string `json:"source_keys,omitempty"`
	Limit             int      `json:"limit,omitempty"`
	DryRun            bool     `json:"dry_run,omitempty"`
	ForceRefresh      bool     `json:"force_refresh,omitempty"`
	PrefectureStrict  bool     `json:"prefecture_strict,omitempty"`
	AllowMissingToken bool     `json:"allow_missing_token,omitempty"`
}

// Payload travels on the task queue. ExecutionUUID binds the task back to
// its ledger run.
type Payload struct {
	ExecutionUUID string  `json:"execution_uuid"`
	Options       Options `json:"options"`
}

// DecodePayload parses a queued task's payload.
func DecodePayload(task *asynq.Task) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return Payload{}, eris.Wrap(err, "jobs: decode task payload")
	}
	if p.ExecutionUUID == "" {
		return Payload{}, eris.New("jobs: task payload has no execution uuid")
	}
	return p, nil
}

var (
	ErrUnknownJob        = eris.New("jobs: unknown job")
	ErrJobDisabled       = eris.New("jobs: job is disabled")
	ErrActiveRun         = eris.New("jobs: job already has an active run")
	ErrUnsupportedOption = eris.New("jobs: option not supported by job")
)

// Dispatcher hands a task to the queue backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskType string, payload Payload) error
}

// AsynqDispatcher queues tasks on Redis via asynq.
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(client *asynq.Client, queue string) *AsynqDispatcher {
	if queue == "" {
		queue = "default"
	}
	return &AsynqDispatcher{client: client, queue: queue}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, taskType string, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "jobs: marshal payload")
	}
	task := asynq.NewTask(taskType, data)
	info, err := d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue), asynq.MaxRetry(3))
	if err != nil {
		return eris.Wrapf(err, "jobs: enqueue %s", taskType)
	}
	zap.L().Debug("task enqueued",
		zap.String("task_type", taskType),
		zap.String("task_id", info.ID),
		zap.String("execution_uuid", payload.ExecutionUUID),
	)
	return nil
}

// Runner validates trigger requests and turns them into QUEUED ledger
// runs plus queue tasks.
type Runner struct {
	store      store.Store
	dispatcher Dispatcher
}

func NewRunner(st store.Store, dispatcher Dispatcher) *Runner {
	return &Runner{store: st, dispatcher: dispatcher}
}

// EnqueueJob creates the ledger run and dispatches the task. One active
// run per job name at a time.
func (r *Runner) EnqueueJob(ctx context.Context, name string, opts Options) (*model.Run, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownJob, "%q", name)
	}
	if !def.Enabled {
		return nil, eris.Wrapf(ErrJobDisabled, "%q", name)
	}
	if len(opts.CompanyIDs) > 0 && !def.SupportsCompanyIDs {
		return nil, eris.Wrapf(ErrUnsupportedOption, "company_ids on %q", name)
	}
	if len(opts.SourceKeys) > 0 && !def.SupportsSourceKeys {
		return nil, eris.Wrapf(ErrUnsupportedOption, "source_keys on %q", name)
	}

	active, err := r.store.HasActiveRun(ctx, name)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, eris.Wrapf(ErrActiveRun, "%q", name)
	}

	sources := opts.SourceKeys
	if len(sources) == 0 {
		sources = def.DefaultSources
	}

	run, err := r.store.CreateRun(ctx, name, sources, map[string]any{"options": opts})
	if err != nil {
		return nil, err
	}

	if err := r.dispatcher.Dispatch(ctx, def.TaskType, Payload{
		ExecutionUUID: run.ExecutionUUID,
		Options:       opts,
	}); err != nil {
		return nil, err
	}

	zap.L().Info("job enqueued",
		zap.String("job", name),
		zap.String("execution_uuid", run.ExecutionUUID),
	)
	return run, nil
}

package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// TaskDeliver is the asynq task type carrying one notification.
const TaskDeliver = "push:deliver"

const (
	queueName      = "push"
	enqueueTimeout = 5 * time.Second
)

// QueueNotifier hands notifications to the asynq worker instead of
// delivering them in-process.
type QueueNotifier struct {
	client *asynq.Client
}

func NewQueueNotifier(client *asynq.Client) *QueueNotifier {
	return &QueueNotifier{client: client}
}

func NewDeliverTask(n domain.Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("push: encode task: %w", err)
	}
	return asynq.NewTask(TaskDeliver, payload, asynq.MaxRetry(0), asynq.Queue(queueName), asynq.Retention(time.Hour)), nil
}

// Notify enqueues n in the background and returns immediately. An enqueue
// failure is logged.
func (q *QueueNotifier) Notify(ctx context.Context, n domain.Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer cancel()
		task, err := NewDeliverTask(n)
		if err == nil {
			_, err = q.client.EnqueueContext(ctx, task)
		}
		if err != nil {
			log.Error().Err(err).Str("module", "push").Msg("enqueue notification")
		}
	}()
}

// HandleDeliver returns the task handler for TaskDeliver.
func HandleDeliver(d *Dispatcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var n domain.Notification
		if err := json.Unmarshal(t.Payload(), &n); err != nil {
			return fmt.Errorf("push: decode task: %w: %w", err, asynq.SkipRetry)
		}
		d.Deliver(ctx, n)
		return nil
	}
}

// NewWorker builds an asynq server consuming the push queue with d handling
// TaskDeliver.
func NewWorker(opt asynq.RedisConnOpt, concurrency int, d *Dispatcher) (*asynq.Server, *asynq.ServeMux) {
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("module", "push").Str("task", task.Type()).Msg("task failed")
		}),
		Logger: workerLogger{},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskDeliver, HandleDeliver(d))
	return srv, mux
}

// workerLogger routes asynq's own logs into zerolog.
type workerLogger struct{}

func (workerLogger) Debug(args ...any) { log.Debug().Str("module", "asynq").Msg(fmt.Sprint(args...)) }
func (workerLogger) Info(args ...any)  { log.Info().Str("module", "asynq").Msg(fmt.Sprint(args...)) }
func (workerLogger) Warn(args ...any)  { log.Warn().Str("module", "asynq").Msg(fmt.Sprint(args...)) }
func (workerLogger) Error(args ...any) { log.Error().Str("module", "asynq").Msg(fmt.Sprint(args...)) }
func (workerLogger) Fatal(args ...any) { log.Fatal().Str("module", "asynq").Msg(fmt.Sprint(args...)) }

package task

import (
	"encoding/json"
	"time"

	"reviewhub/pkg/task"
	"reviewhub/pkg/taskname"

	"github.com/hibiken/asynq"
)

type ProofSubmittedPayload struct {
	OrderID    string    `json:"order_id"`
	TaskID     string    `json:"task_id"`
	InternID   string    `json:"intern_id"`
	ProofID    string    `json:"proof_id"`
	Commission float64   `json:"commission"`
	CreatedAt  time.Time `json:"created_at"`
}

type OrderReconcilePayload struct {
	OrderID string `json:"order_id"`
}

func NewProofSubmittedTask(p ProofSubmittedPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ProofSubmitted, payload,
		asynq.MaxRetry(5),
		asynq.Queue(task.QueueDefault)), nil
}

// NewOrderReconcileTask is deduplicated per order for a minute.
func NewOrderReconcileTask(p OrderReconcilePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.OrderReconcile, payload,
		asynq.MaxRetry(10),
		asynq.Unique(time.Minute),
		asynq.Queue(task.QueueCritical)), nil
}

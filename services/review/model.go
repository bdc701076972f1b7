package review

import (
	"time"

	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in-progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// OpenOrderStatuses are the statuses whose tasks can still be worked on.
var OpenOrderStatuses = []OrderStatus{OrderPending, OrderInProgress}

func (s OrderStatus) Open() bool {
	return s == OrderPending || s == OrderInProgress
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskSubmitted TaskStatus = "submitted"
)

type Order struct {
	ID               string        `gorm:"column:id;primaryKey" json:"id"`
	Code             string        `gorm:"column:code;uniqueIndex" json:"code"`
	ClientID         string        `gorm:"column:client_id;index" json:"client_id"`
	BusinessName     string        `gorm:"column:business_name" json:"business_name"`
	BusinessURL      string        `gorm:"column:business_url" json:"business_url"`
	TotalReviews     int           `gorm:"column:total_reviews" json:"total_reviews"`
	CompletedReviews int           `gorm:"column:completed_reviews" json:"completed_reviews"`
	Status           OrderStatus   `gorm:"column:status;index" json:"status"`
	CreatedAt        time.Time     `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"column:updated_at" json:"updated_at"`
	Tasks            []*ReviewTask `gorm:"foreignKey:OrderID" json:"tasks,omitempty"`
}

func (Order) TableName() string { return "orders" }

// DeriveStatus returns the status implied by the completed count.
func (o *Order) DeriveStatus(completed int) OrderStatus {
	if completed >= o.TotalReviews {
		return OrderCompleted
	}
	return OrderInProgress
}

// AssignedTo returns the task internID is currently working on, if any.
func (o *Order) AssignedTo(internID string) *ReviewTask {
	if o == nil {
		return nil
	}
	for _, t := range o.Tasks {
		if t != nil && t.OwnedBy(internID) && t.Status == TaskAssigned {
			return t
		}
	}
	return nil
}

type ReviewTask struct {
	ID          string                      `gorm:"column:id;primaryKey" json:"id"`
	OrderID     string                      `gorm:"column:order_id;index" json:"order_id"`
	Status      TaskStatus                  `gorm:"column:status;index" json:"status"`
	Commission  float64                     `gorm:"column:commission" json:"commission"`
	Guidelines  datatypes.JSONSlice[string] `gorm:"column:guidelines" json:"guidelines"`
	InternID    *string                     `gorm:"column:intern_id;index" json:"intern_id"`
	AssignedAt  *time.Time                  `gorm:"column:assigned_at" json:"assigned_at,omitempty"`
	CompletedAt *time.Time                  `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time                   `gorm:"column:updated_at" json:"updated_at"`
	Order       *Order                      `gorm:"foreignKey:OrderID" json:"-"`
}

func (ReviewTask) TableName() string { return "review_tasks" }

func (t *ReviewTask) Available() bool {
	return t.Status == TaskPending && t.InternID == nil
}

func (t *ReviewTask) OwnedBy(internID string) bool {
	return t.InternID != nil && *t.InternID == internID
}

type ReviewProof struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	TaskID        string    `gorm:"column:task_id;uniqueIndex" json:"task_id"`
	InternID      string    `gorm:"column:intern_id;index" json:"intern_id"`
	ScreenshotURL string    `gorm:"column:screenshot_url" json:"screenshot_url"`
	ReviewText    string    `gorm:"column:review_text;type:text" json:"review_text"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ReviewProof) TableName() string { return "review_proofs" }

// Models lists every table owned by the review domain, in migration order.
func Models() []any {
	return []any{&Order{}, &ReviewTask{}, &ReviewProof{}}
}

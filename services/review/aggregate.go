package review

import (
	"strings"
)

// OrderView is one order on the intern board together with its derived counters.
type OrderView struct {
	Order *Order `json:"order"`

	AvailableTasks      int     `json:"available_tasks"`
	MyTasks             int     `json:"my_tasks"`
	TotalCommission     float64 `json:"total_commission"`
	PerReviewCommission float64 `json:"per_review_commission"`
	// AvailableEarnings is the commission still up for grabs on this order.
	AvailableEarnings float64 `json:"available_earnings"`
	MyEarnings        float64 `json:"my_earnings"`
	// Progress is completed_reviews as a percentage of total_reviews.
	Progress     float64     `json:"progress"`
	MyActiveTask *ReviewTask `json:"my_active_task,omitempty"`
}

type Board struct {
	Orders              []OrderView `json:"orders"`
	TotalAvailableTasks int         `json:"total_available_tasks"`
	MyActiveTasks       int         `json:"my_active_tasks"`
	MyPendingEarnings   float64     `json:"my_pending_earnings"`
	// Stale is set when the board is a previous snapshot served because a refresh failed.
	Stale bool `json:"stale"`
}

// Aggregate derives the intern board from orders and their embedded tasks.
// It does not modify its input and never fails.
func Aggregate(internID string, orders []*Order) Board {
	board := Board{Orders: make([]OrderView, 0, len(orders))}

	for _, o := range orders {
		if o == nil {
			continue
		}

		v := OrderView{Order: o}
		for _, t := range o.Tasks {
			if t == nil {
				continue
			}

			v.TotalCommission += t.Commission

			if t.Available() {
				v.AvailableTasks++
				v.AvailableEarnings += t.Commission
			}

			if internID == "" || !t.OwnedBy(internID) {
				continue
			}

			v.MyTasks++
			switch t.Status {
			case TaskAssigned:
				board.MyActiveTasks++
				if v.MyActiveTask == nil {
					v.MyActiveTask = t
				}
			case TaskSubmitted:
				board.MyPendingEarnings += t.Commission
			}
		}

		if o.TotalReviews > 0 {
			v.PerReviewCommission = v.TotalCommission / float64(o.TotalReviews)
			v.Progress = float64(o.CompletedReviews) / float64(o.TotalReviews) * 100
			if v.Progress > 100 {
				v.Progress = 100
			}
		}
		v.MyEarnings = float64(v.MyTasks) * v.PerReviewCommission

		if v.AvailableTasks == 0 && v.MyTasks == 0 {
			continue
		}

		board.TotalAvailableTasks += v.AvailableTasks
		board.Orders = append(board.Orders, v)
	}

	return board
}

type Filter string

const (
	FilterAll       Filter = "all"
	FilterAvailable Filter = "available"
	FilterClaimed   Filter = "claimed"
)

func ParseFilter(s string) (Filter, bool) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, true
	case FilterAvailable, FilterClaimed:
		return f, true
	default:
		return "", false
	}
}

// View narrows the listed orders by business name or code and by filter. The
// board totals keep describing the whole working set.
func (b Board) View(search string, filter Filter) Board {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" && (filter == "" || filter == FilterAll) {
		return b
	}

	out := b
	out.Orders = make([]OrderView, 0, len(b.Orders))
	for _, v := range b.Orders {
		if search != "" &&
			!strings.Contains(strings.ToLower(v.Order.BusinessName), search) &&
			!strings.Contains(strings.ToLower(v.Order.Code), search) {
			continue
		}

		switch filter {
		case FilterAvailable:
			if v.AvailableTasks == 0 {
				continue
			}
		case FilterClaimed:
			if v.MyTasks == 0 {
				continue
			}
		}

		out.Orders = append(out.Orders, v)
	}
	return out
}

// Find returns the view for orderID, if it is on the board.
func (b Board) Find(orderID string) (OrderView, bool) {
	for _, v := range b.Orders {
		if v.Order.ID == orderID {
			return v, true
		}
	}
	return OrderView{}, false
}

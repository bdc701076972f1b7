package taskname

const (
	// Review tasks
	ProofSubmitted = "review:proof:submitted"
	OrderReconcile = "review:order:reconcile"
)

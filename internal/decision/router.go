package decision

// Disposition says how a decision proceeds.
type Disposition string

const (
	// ExecuteAutonomously runs the action without human involvement.
	ExecuteAutonomously Disposition = "execute"
	// RequestApproval gates the action behind human confirmation.
	RequestApproval Disposition = "request_approval"
)

// Directive is the routing outcome for one decision. Notify is orthogonal to
// the execute/approve branch.
type Directive struct {
	Disposition Disposition
	Notify      bool
}

// Router applies the configured certainty and significance thresholds.
type Router struct {
	certaintyThreshold    float64
	significanceThreshold float64
}

// NewRouter creates a router with the given thresholds.
func NewRouter(certaintyThreshold, significanceThreshold float64) *Router {
	return &Router{
		certaintyThreshold:    certaintyThreshold,
		significanceThreshold: significanceThreshold,
	}
}

// Route decides the disposition of a parsed decision.
func (r *Router) Route(d *Decision) Directive {
	directive := Directive{Disposition: RequestApproval}
	if d.Certainty >= r.certaintyThreshold {
		directive.Disposition = ExecuteAutonomously
	}
	if d.Significance >= r.significanceThreshold {
		directive.Notify = true
	}
	return directive
}

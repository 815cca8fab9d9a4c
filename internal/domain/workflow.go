package domain

// Stage returns the state for one of the four stage keys.
func (w Workflow) Stage(key string) (StageState, bool) {
	switch key {
	case "dp":
		return w.DP, true
	case "consuel":
		return w.Consuel, true
	case "enedis":
		return w.Enedis, true
	case "edfOa":
		return w.EdfOA, true
	}
	return StageState{}, false
}

// SetStage replaces the state for a stage key.
func (w *Workflow) SetStage(key string, s StageState) {
	switch key {
	case "dp":
		w.DP = s
	case "consuel":
		w.Consuel = s
	case "enedis":
		w.Enedis = s
	case "edfOa":
		w.EdfOA = s
	}
}

// NewWorkflow returns a workflow with every stage at the pending sentinel.
func NewWorkflow() Workflow {
	pending := StageState{CurrentStep: "pending"}
	return Workflow{DP: pending, Consuel: pending, Enedis: pending, EdfOA: pending}
}

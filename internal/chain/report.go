package chain

// Report summarizes detector state for the reporting layer.
type Report struct {
	TotalChains           int            `json:"TotalChains"`
	ActiveChains          int            `json:"ActiveChains"`
	CompletedChains       int            `json:"CompletedChains"`
	ChainTypeDistribution map[string]int `json:"ChainTypeDistribution"`
	// MostDangerousChain is the completed chain with the highest severity;
	// the earliest completed wins ties. Nil when nothing has completed.
	MostDangerousChain *AttackChain `json:"MostDangerousChain,omitempty"`
	// UnverifiedChains lists completed chains whose steps are not linked by
	// data flow, in completion order.
	UnverifiedChains []string `json:"UnverifiedChains"`
}

// GenerateReport computes totals, the type histogram over completed chains,
// and the most dangerous completed chain.
func (d *Detector) GenerateReport() Report {
	r := Report{
		TotalChains:           len(d.active) + len(d.completed),
		ActiveChains:          len(d.active),
		CompletedChains:       len(d.completed),
		ChainTypeDistribution: make(map[string]int),
		UnverifiedChains:      []string{},
	}
	for _, c := range d.CompletedChains() {
		r.ChainTypeDistribution[c.ChainType()]++
		if r.MostDangerousChain == nil || c.FinalSeverity() > r.MostDangerousChain.FinalSeverity() {
			r.MostDangerousChain = c
		}
		if !c.VerifyCausality() {
			r.UnverifiedChains = append(r.UnverifiedChains, c.ID())
		}
	}
	return r
}

package models

import "time"

// Phase identifies a step of the pipeline state machine. Transitions are
// recorded with a monotonically increasing sequence number before the
// corresponding activity starts, so a restarted worker can resume from the
// last recorded phase instead of re-running committed side effects.
type Phase string

const (
	PhaseNormalized Phase = "NORMALIZED"
	PhaseResearched Phase = "RESEARCHED"
	PhaseScored     Phase = "SCORED"
	PhaseReworked   Phase = "REWORKED"
	PhaseExtracted  Phase = "EXTRACTED"
	PhasePersisted  Phase = "PERSISTED"
	PhaseDecorated  Phase = "DECORATED"
	PhaseIndexed    Phase = "INDEXED"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

func (p Phase) String() string { return string(p) }

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	StatusCreated  RunStatus = "created"
	StatusUpdated  RunStatus = "updated"
	StatusExists   RunStatus = "exists"
	StatusDegraded RunStatus = "degraded"
	StatusFailed   RunStatus = "failed"
)

func (s RunStatus) String() string { return string(s) }

// FailureClass classifies a provider call failure.
type FailureClass string

const (
	FailureNone      FailureClass = ""
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// ProviderResult is one provider's contribution to a research bundle. A call
// that exhausted its retries contributes a failure entry (Failure set, zero
// payload) rather than aborting the rest of the fan-out.
type ProviderResult struct {
	Provider    string       `json:"provider"`
	Query       string       `json:"query"`
	Text        string       `json:"text,omitempty"`
	URLs        []string     `json:"urls,omitempty"`
	Confidence  float64      `json:"confidence,omitempty"` // provider-reported, 0 when absent
	ResultCount int          `json:"result_count,omitempty"`
	CostUSD     float64      `json:"cost_usd"`
	Failure     FailureClass `json:"failure,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Succeeded reports whether the provider call produced usable evidence.
func (r ProviderResult) Succeeded() bool {
	return r.Failure == FailureNone && r.Text != ""
}

// ResearchBundle is the ordered set of per-provider results for one research
// pass. Immutable once a pass completes; a rework pass produces a second
// bundle that is merged via Merge, never replaced.
type ResearchBundle struct {
	Pass    int              `json:"pass"`
	Results []ProviderResult `json:"results"`
}

// Successful returns the results that produced usable evidence, in order.
func (b ResearchBundle) Successful() []ProviderResult {
	out := make([]ProviderResult, 0, len(b.Results))
	for _, r := range b.Results {
		if r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

// Merge unions another bundle's results into this one. Successful entries are
// always kept; failure entries from the newer pass are kept only when the
// original pass has no entry for that provider, so a rework pass can only add
// evidence, never mask it.
func (b ResearchBundle) Merge(other ResearchBundle) ResearchBundle {
	merged := ResearchBundle{Pass: other.Pass}
	merged.Results = append(merged.Results, b.Results...)
	seen := make(map[string]bool, len(b.Results))
	for _, r := range b.Results {
		seen[r.Provider+"|"+r.Query] = true
	}
	for _, r := range other.Results {
		if !r.Succeeded() && seen[r.Provider+"|"+r.Query] {
			continue
		}
		merged.Results = append(merged.Results, r)
	}
	return merged
}

// TotalCost sums the provider-reported cost of every entry, failures included.
func (b ResearchBundle) TotalCost() float64 {
	var total float64
	for _, r := range b.Results {
		total += r.CostUSD
	}
	return total
}

// ConfidenceAssessment is the scorer's reduction of a research bundle to a
// single [0,1] score plus the named signals explaining it. ReworkTriggered may
// be true at most once per run.
type ConfidenceAssessment struct {
	Score           float64  `json:"score"`
	Signals         []string `json:"signals"`
	ReworkTriggered bool     `json:"rework_triggered"`
}

// MediaAssetStatus is the terminal state of one media synthesis attempt.
type MediaAssetStatus string

const (
	MediaGenerated MediaAssetStatus = "generated"
	MediaFailed    MediaAssetStatus = "failed"
	MediaSkipped   MediaAssetStatus = "skipped"
)

// MediaAsset is one best-effort decoration of a persisted entity. Absence of
// any asset is a valid terminal state.
type MediaAsset struct {
	Kind    string           `json:"kind"`
	Prompt  string           `json:"prompt,omitempty"`
	URL     string           `json:"url,omitempty"`
	CostUSD float64          `json:"cost_usd"`
	Status  MediaAssetStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
}

// GraphSummary is a bounded-length summary published for cross-entity lookup
// by later runs. Best-effort; may be absent without affecting entity validity.
type GraphSummary struct {
	NaturalKey  string    `json:"natural_key"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

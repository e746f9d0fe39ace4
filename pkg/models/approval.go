package models

// ApprovalStatus is the lifecycle state of a human-approval gate.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
	ApprovalStatusCanceled ApprovalStatus = "canceled"
)

// IsResolved reports whether a decision (or timeout) has been recorded.
func (s ApprovalStatus) IsResolved() bool {
	return s != ApprovalStatusPending
}

// RiskFactor is one structured contributor to an approval's risk score.
type RiskFactor struct {
	Factor  string         `json:"factor"`
	Score   float64        `json:"score"`
	Weight  float64        `json:"weight"`
	Details map[string]any `json:"details,omitempty"`
}

// Approval is a pending human decision created when an approval node becomes
// ready. It is resolved by the approval API or expired by the run engine.
type Approval struct {
	ApprovalID  string            `json:"approval_id" validate:"required"`
	TaskID      string            `json:"task_id"`
	RiskScore   float64           `json:"risk_score"`
	RiskFactors []RiskFactor      `json:"risk_factors,omitempty"`
	Requester   map[string]any    `json:"requester,omitempty"`
	Status      ApprovalStatus    `json:"status"`
	Decision    *ApprovalDecision `json:"decision,omitempty"`
	ExpiresAt   int64             `json:"expires_at"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
}

// ApprovalDecision records who resolved an approval and how.
type ApprovalDecision struct {
	ApprovalID string   `json:"approval_id"`
	Decision   string   `json:"decision"   validate:"required,oneof=approve reject"`
	Approver   string   `json:"approver"   validate:"required"`
	Reason     string   `json:"reason,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
	SignedAt   int64    `json:"signed_at"`
}

// NormalizeRiskScore clamps a risk score onto the 0..100 scale. Scores given
// as a 0..1 fraction are rescaled.
func NormalizeRiskScore(score float64) float64 {
	if score <= 1.0 {
		score *= 100.0
	}

	if score > 100.0 {
		return 100.0
	}

	if score < 0.0 {
		return 0.0
	}

	return score
}

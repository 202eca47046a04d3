package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Deal is a loan (installment sale) the schedule belongs to.
type Deal struct {
	DealAid       string          `json:"deal_aid"`
	ClientAid     string          `json:"client_aid"`
	ProductPrice  decimal.Decimal `json:"product_price"`
	UpfrontAmount decimal.Decimal `json:"upfront_amount"`
	TermMonths    int             `json:"term_months"`
	PaymentMethod PaymentChannel  `json:"payment_method"`
	Score         *ScoreResult    `json:"score,omitempty"`
	Decision      DecisionPayload `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DecisionType discriminates the payload stored with a deal decision.
type DecisionType string

const (
	DecisionApplication DecisionType = "APPLICATION"
	DecisionApproval    DecisionType = "APPROVAL"
	DecisionRejection   DecisionType = "REJECTION"
)

// DecisionPayload is one of ApplicationPayload, ApprovalPayload or RejectionPayload.
type DecisionPayload interface {
	DecisionType() DecisionType
}

// ApplicationPayload carries the applicant data the score was computed from.
type ApplicationPayload struct {
	Input ScoringInput `json:"input"`
}

// ApprovalPayload carries the accepted schedule terms.
type ApprovalPayload struct {
	Score            ScoreResult     `json:"score"`
	FinancedAmount   decimal.Decimal `json:"financed_amount"`
	TermMonths       int             `json:"term_months"`
	FirstPaymentDate string          `json:"first_payment_date"`
}

// RejectionPayload records why an application was declined.
type RejectionPayload struct {
	Score  *ScoreResult `json:"score,omitempty"`
	Reason string       `json:"reason"`
}

func (ApplicationPayload) DecisionType() DecisionType { return DecisionApplication }
func (ApprovalPayload) DecisionType() DecisionType    { return DecisionApproval }
func (RejectionPayload) DecisionType() DecisionType   { return DecisionRejection }

type decisionEnvelope struct {
	Type DecisionType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeDecisionPayload wraps p in its type envelope for storage.
func EncodeDecisionPayload(p DecisionPayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(decisionEnvelope{Type: p.DecisionType(), Data: data})
}

// DecodeDecisionPayload reads a stored envelope back into its variant.
// Empty input yields a nil payload.
func DecodeDecisionPayload(raw []byte) (DecisionPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env decisionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ValidationError("malformed decision payload: %v", err)
	}
	switch env.Type {
	case DecisionApplication:
		return decodeDecision[ApplicationPayload](env)
	case DecisionApproval:
		return decodeDecision[ApprovalPayload](env)
	case DecisionRejection:
		p, err := decodeDecision[RejectionPayload](env)
		if err == nil && p.(RejectionPayload).Reason == "" {
			return nil, ValidationError("rejection payload without reason")
		}
		return p, err
	}
	return nil, ValidationError("unknown decision payload type %q", env.Type)
}

func decodeDecision[T DecisionPayload](env decisionEnvelope) (DecisionPayload, error) {
	v, err := decodeStrict[T](env.Data)
	if err != nil {
		return nil, ValidationError("malformed %s payload: %v", env.Type, err)
	}
	return v, nil
}

// DebtSummary is the outstanding position of a deal.
type DebtSummary struct {
	DealAid     string          `json:"deal_aid"`
	TotalDebt   decimal.Decimal `json:"total_debt"`
	NextPayment *Installment    `json:"next_payment,omitempty"`
	Overdue     int             `json:"overdue_installments"`
	// Degraded is set when no schedule exists and the product price was used.
	Degraded bool `json:"degraded,omitempty"`
}

package finance

import (
	"github.com/evdms/evdms/internal/ledger"
	"github.com/evdms/evdms/internal/pricing"
)

// AmortizationRequest is the body of POST /api/finance/amortization.
type AmortizationRequest struct {
	Principal         pricing.Money `json:"principal" validate:"gte=0,lte=9007199254740991"`
	AnnualRatePercent float64       `json:"annual_rate_percent" validate:"gte=0,lte=100"`
	Months            int           `json:"months" validate:"gte=0,lte=600"`
	IncludeSchedule   bool          `json:"include_schedule"`
}

// AmortizationResponse carries the payment and, on request, the schedule.
type AmortizationResponse struct {
	MonthlyPayment pricing.Money         `json:"monthly_payment"`
	TotalPaid      pricing.Money         `json:"total_paid"`
	Schedule       []pricing.Installment `json:"schedule,omitempty"`
}

// OpenAccountRequest is the body of POST /api/dealers/{id}/account.
type OpenAccountRequest struct {
	DebtLimit pricing.Money `json:"debt_limit" validate:"gte=0,lte=9007199254740991"`
}

// ChargeRequest is the body of POST /api/dealers/{id}/charges.
type ChargeRequest struct {
	Amount    pricing.Money `json:"amount" validate:"gt=0,lte=9007199254740991"`
	Override  bool          `json:"override"`
	Reference string        `json:"reference" validate:"max=128"`
}

// PaymentRequest is the body of POST /api/dealers/{id}/payments.
type PaymentRequest struct {
	Amount    pricing.Money `json:"amount" validate:"gt=0,lte=9007199254740991"`
	Reference string        `json:"reference" validate:"max=128"`
}

// AccountResponse is the dealer account summary.
type AccountResponse struct {
	ledger.Account
	Available pricing.Money  `json:"available"`
	OverLimit bool           `json:"over_limit"`
	Entries   []ledger.Entry `json:"entries"`
}

package domain

import "time"

// TriggerType enumerates the webhook events an automation can react to.
type TriggerType string

const (
	TriggerCustomerCreated TriggerType = "customer_created"
	TriggerOrderPaid       TriggerType = "order_paid"
)

// Automation maps a webhook trigger condition to a send action. For
// order_paid triggers, TriggerValue is a minimum order total in cents;
// nil means any amount qualifies.
type Automation struct {
	ID           string      `json:"id" db:"id"`
	StoreID      string      `json:"store_id" db:"store_id"`
	CardID       string      `json:"card_id" db:"card_id"`
	TriggerType  TriggerType `json:"trigger_type" db:"trigger_type"`
	TriggerValue *int64      `json:"trigger_value" db:"trigger_value"`
	Active       bool        `json:"active" db:"active"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// Matches reports whether the rule fires for the given trigger and order
// amount. The threshold is a minimum, not an exact match.
func (a *Automation) Matches(trigger TriggerType, orderAmountCents int64) bool {
	if !a.Active || a.TriggerType != trigger {
		return false
	}
	if trigger == TriggerOrderPaid && a.TriggerValue != nil && orderAmountCents < *a.TriggerValue {
		return false
	}
	return true
}

// SendTaskStatus enumerates the lifecycle of a deferred send.
type SendTaskStatus string

const (
	SendTaskPending    SendTaskStatus = "pending"
	SendTaskProcessing SendTaskStatus = "processing"
	SendTaskDone       SendTaskStatus = "done"
	SendTaskFailed     SendTaskStatus = "failed"
)

// SendTask is a pending unit of work created when a webhook event matches an
// active automation, consumed by the send-task worker.
type SendTask struct {
	ID           string         `json:"id" db:"id"`
	StoreID      string         `json:"store_id" db:"store_id"`
	AutomationID string         `json:"automation_id" db:"automation_id"`
	MemberID     string         `json:"member_id" db:"member_id"`
	Status       SendTaskStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time     `json:"processed_at" db:"processed_at"`
}

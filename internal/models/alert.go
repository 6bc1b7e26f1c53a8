package models

import "time"

// AlertCondition selects how an alert is evaluated against the latest record.
type AlertCondition string

const (
	ConditionPriceAbove    AlertCondition = "price_above"
	ConditionPriceBelow    AlertCondition = "price_below"
	ConditionVWAPCrossUp   AlertCondition = "vwap_cross_up"
	ConditionVWAPCrossDown AlertCondition = "vwap_cross_down"
)

// Valid reports whether c is a known condition.
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionPriceAbove, ConditionPriceBelow, ConditionVWAPCrossUp, ConditionVWAPCrossDown:
		return true
	}
	return false
}

// UsesVWAP reports whether the condition compares against VWAP instead of Threshold.
func (c AlertCondition) UsesVWAP() bool {
	return c == ConditionVWAPCrossUp || c == ConditionVWAPCrossDown
}

// Alert is a user-defined price or VWAP trigger.
type Alert struct {
	ID          string         `json:"id" db:"id"`
	Symbol      string         `json:"symbol" db:"symbol"`
	Timeframe   string         `json:"timeframe" db:"timeframe"`
	Condition   AlertCondition `json:"condition" db:"condition"`
	Threshold   float64        `json:"threshold" db:"threshold"`
	VWAPWindow  int            `json:"vwap_window" db:"vwap_window"`
	Note        string         `json:"note" db:"note"`
	Active      bool           `json:"active" db:"active"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	TriggeredAt *time.Time     `json:"triggered_at,omitempty" db:"triggered_at"`
}

// AlertEvent is published when an alert fires.
type AlertEvent struct {
	AlertID   string         `json:"alert_id"`
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Condition AlertCondition `json:"condition"`
	Price     float64        `json:"price"`
	Reference float64        `json:"reference"` // threshold or VWAP
	Note      string         `json:"note,omitempty"`
	FiredAt   time.Time      `json:"fired_at"`
}

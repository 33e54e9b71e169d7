package domain

import "time"

// Alert is a failure an operator has to see even though the pipeline keeps
// running.
type Alert struct {
	OpportunityID string    `json:"opportunity_id"`
	ChainID       uint64    `json:"chain_id"`
	Stage         string    `json:"stage"`
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}

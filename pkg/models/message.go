package models

import "time"

// AgentMessage is a structured message exchanged between workers.
type AgentMessage struct {
	ID      string         `json:"id"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

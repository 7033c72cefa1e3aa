// Package client provides an HTTP client for the training dashboard REST API.
// Types mirror the server wire format without importing server packages.
package client

import "time"

// TrainingRequest is the body of POST /api/trainings.
type TrainingRequest struct {
	ModelName string `json:"model_name,omitempty"`
	Epochs    int    `json:"epochs,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
}

// Training describes one training run as reported by the server.
type Training struct {
	ID          string     `json:"id"`
	ModelName   string     `json:"model_name"`
	Status      string     `json:"status"`
	Scenario    string     `json:"scenario,omitempty"`
	Epoch       int        `json:"epoch"`
	TotalEpochs int        `json:"total_epochs"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	StreamURL   string     `json:"stream_url"`
}

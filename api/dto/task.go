package dto

import "plateCover/api/models"

// UploadedFile is one file received at intake, already read into memory.
type UploadedFile struct {
	Name string
	Data []byte
}

type TaskCreatedResponse struct {
	TaskID string `json:"task_id"`
}

type TaskStatusResponse struct {
	TaskID  string              `json:"task_id"`
	Status  string              `json:"status"`
	Results []models.ResultFile `json:"results"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

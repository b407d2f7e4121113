package api

import (
	"lesnet-viewer/internal/grid"
)

// Run states reported by the model server
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "error"
)

// RunRequest is the body of POST /run_model
type RunRequest struct {
	Lake string `json:"lake"`
	Date string `json:"date"` // "YYYY-MM-DD HH:00", UTC
}

// RunResponse is the reply to POST /run_model
type RunResponse struct {
	Success       bool   `json:"success"`
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RunResult is the outcome attached to a terminal status
type RunResult struct {
	Success    bool   `json:"success"`
	FolderName string `json:"folder_name,omitempty"`
	DataPath   string `json:"data_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StatusResponse is the reply to GET /model_status/{run_id}
type StatusResponse struct {
	RunID         string     `json:"run_id,omitempty"`
	Status        string     `json:"status"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	Result        *RunResult `json:"result,omitempty"`
}

// Folder is one entry of GET /get_available_data
type Folder struct {
	Folder string  `json:"folder"`
	Date   string  `json:"date,omitempty"`
	Lake   string  `json:"lake"`
	Ctime  float64 `json:"ctime"`
}

type availableData struct {
	Folders []Folder `json:"folders"`
	Error   string   `json:"error,omitempty"`
}

// LayerMetadata is the per-layer entry of GET /get_data_metadata/{folder}
type LayerMetadata struct {
	Variable       string              `json:"variable"`
	Georeferencing grid.Georeferencing `json:"georeferencing"`
}

// LayerDocument is the companion JSON of a layer raster
type LayerDocument struct {
	Variable       string              `json:"variable"`
	Shape          []int               `json:"shape,omitempty"`
	Georeferencing grid.Georeferencing `json:"georeferencing"`
	Values         grid.ValueGrid      `json:"values"`
}

type errorBody struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
}

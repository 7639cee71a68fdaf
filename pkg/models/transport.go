package models

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusResponse describes the live capture service
type StatusResponse struct {
	State         string `json:"state"`
	Enabled       bool   `json:"enabled"`
	FramesSeen    uint64 `json:"frames_seen"`
	FramesDropped uint64 `json:"frames_dropped"`
	Triggers      uint64 `json:"triggers"`
	DedupEntries  int    `json:"dedup_entries"`
	InFlight      bool   `json:"in_flight"`
}

// FrameAccepted is returned when a frame was placed into the pending slot
type FrameAccepted struct {
	Seq    uint64 `json:"seq"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

package models

import "time"

// ResultKind tags the variant held by a CaptureResult
type ResultKind string

const (
	ResultSuccess   ResultKind = "success"
	ResultDuplicate ResultKind = "duplicate"
	ResultFailure   ResultKind = "failure"
)

// CaptureResult is the outcome of one triggered capture attempt.
// Success carries Code and FilePath, Duplicate carries Code, Failure carries Reason.
type CaptureResult struct {
	Kind     ResultKind `json:"kind"`
	Code     string     `json:"code,omitempty"`
	FilePath string     `json:"file_path,omitempty"`
	Reason   string     `json:"reason,omitempty"`

	// Set when the failure maps to a known error category
	ErrorType string `json:"error_type,omitempty"`
	// Advisory findings on a saved page, e.g. "blurriness"
	QualityIssues []string `json:"quality_issues,omitempty"`

	AttemptID      string        `json:"attempt_id"`
	TriggeredAt    time.Time     `json:"triggered_at"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Success builds a Success result
func Success(code, filePath string) CaptureResult {
	return CaptureResult{Kind: ResultSuccess, Code: code, FilePath: filePath}
}

// Duplicate builds a Duplicate result
func Duplicate(code string) CaptureResult {
	return CaptureResult{Kind: ResultDuplicate, Code: code}
}

// Failure builds a Failure result
func Failure(reason string) CaptureResult {
	return CaptureResult{Kind: ResultFailure, Reason: reason}
}

func (r CaptureResult) IsSuccess() bool   { return r.Kind == ResultSuccess }
func (r CaptureResult) IsDuplicate() bool { return r.Kind == ResultDuplicate }
func (r CaptureResult) IsFailure() bool   { return r.Kind == ResultFailure }

// Accepted reports whether the attempt read a code, saved or not
func (r CaptureResult) Accepted() bool {
	return r.Kind == ResultSuccess || r.Kind == ResultDuplicate
}

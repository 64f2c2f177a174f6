// Package model contains the entities and result types shared across packages.
package model

import (
	"time"
)

// ProcessingState is the orchestrator's view of a document's lifecycle.
type ProcessingState string

const (
	StateNotFound    ProcessingState = "NotFound"
	StateNotUploaded ProcessingState = "NotUploaded"
	StateUploaded    ProcessingState = "Uploaded"
	StateProcessing  ProcessingState = "Processing"
	StateSuccess     ProcessingState = "Success"
	StateError       ProcessingState = "Error"
)

// Document is a file submitted for extraction. Status holds the last status
// label persisted for it, which after upload is the remote service's own
// status string.
type Document struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Content      []byte    `json:"-"`
	ContentType  string    `json:"contentType"`
	TaxID        string    `json:"taxId"`
	Description  string    `json:"description,omitempty"`
	RemoteID     *string   `json:"remoteId,omitempty"`
	Status       string    `json:"status"`
	Processed    bool      `json:"processed"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Uploaded reports whether the remote service assigned an id.
func (d *Document) Uploaded() bool {
	return d.RemoteID != nil && *d.RemoteID != ""
}

// Failed reports whether an error message has been recorded.
func (d *Document) Failed() bool {
	return d.ErrorMessage != nil && *d.ErrorMessage != ""
}

// RemoteIDValue returns the remote id or "".
func (d *Document) RemoteIDValue() string {
	if d.RemoteID == nil {
		return ""
	}
	return *d.RemoteID
}

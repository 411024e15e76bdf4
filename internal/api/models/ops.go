package models

// Health represents the health of the agent process.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// TrackingStatus is the full agent status snapshot.
type TrackingStatus struct {
	// Running reports whether a tracking session is active.
	Running bool `json:"running"`

	// Mode is the current tracking mode name: idle, moving, or burst.
	Mode string `json:"mode"`

	// PendingUploads is the number of records waiting in the offline queue.
	PendingUploads int `json:"pendingUploads"`

	// OldestPendingAt is the capture time of the oldest queued record.
	OldestPendingAt *Timestamp `json:"oldestPendingAt,omitempty"`

	// LastEnqueueAt is when a fix was last persisted.
	LastEnqueueAt *Timestamp `json:"lastEnqueueAt,omitempty"`

	// LastUploadAt is when a batch was last accepted by the server.
	LastUploadAt *Timestamp `json:"lastUploadAt,omitempty"`

	// UploadsHalted is true when uploads stopped on an auth failure.
	UploadsHalted bool `json:"uploadsHalted"`

	// PendingTrack is the queued positions as an encoded polyline, oldest
	// first.
	PendingTrack string `json:"pendingTrack,omitempty"`

	// PendingTrackMeters is the great-circle length of the pending track.
	PendingTrackMeters float64 `json:"pendingTrackMeters,omitempty"`
}

package validation

import (
	"testing"

	apperrors "go-receipt-capture/internal/errors"
)

func TestValidateSnapshotURL(t *testing.T) {
	validator := NewURLValidator()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http camera", "http://192.168.1.20/snapshot.jpg", false},
		{"https with port", "https://cam.local:8443/cgi-bin/snapshot.cgi?chn=1", false},
		{"uppercase scheme", "HTTP://cam.local/still.jpg", false},
		{"empty", "   ", true},
		{"rtsp stream", "rtsp://cam.local/stream1", true},
		{"file path", "/tmp/snapshot.jpg", true},
		{"missing host", "http:///snapshot.jpg", true},
		{"bad escape", "http://cam.local/%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateSnapshotURL(tt.url)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error for %q", tt.url)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected %q to be valid, got %v", tt.url, err)
			}
			if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestValidateSnapshotURL_AllowedHosts(t *testing.T) {
	validator := NewURLValidatorWithOptions([]string{"https"}, []string{"cam.local"})

	if err := validator.ValidateSnapshotURL("https://cam.local:8443/still.jpg"); err != nil {
		t.Errorf("Expected allowed host to pass, got %v", err)
	}
	if err := validator.ValidateSnapshotURL("https://other.local/still.jpg"); err == nil {
		t.Error("Expected other host to be rejected")
	}
	if err := validator.ValidateSnapshotURL("http://cam.local/still.jpg"); err == nil {
		t.Error("Expected http to be rejected when only https is allowed")
	}
}

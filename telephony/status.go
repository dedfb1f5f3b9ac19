package telephony

import "github.com/creastat/hotline"

var providerStatuses = map[string]hotline.CallStatus{
	"queued":      hotline.StatusRinging,
	"ringing":     hotline.StatusRinging,
	"in-progress": hotline.StatusInProgress,
	"completed":   hotline.StatusCompleted,
	"busy":        hotline.StatusFailed,
	"no-answer":   hotline.StatusFailed,
	"failed":      hotline.StatusFailed,
	"canceled":    hotline.StatusDisconnected,
}

// MapStatus translates a Twilio CallStatus value. Unknown values report false.
func MapStatus(providerStatus string) (hotline.CallStatus, bool) {
	s, ok := providerStatuses[providerStatus]
	return s, ok
}

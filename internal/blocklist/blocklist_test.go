package blocklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocked(t *testing.T) {
	l := New([]string{"ads.example.com", "*.tracker.net", "Telemetry.ORG.", "", "  "})
	assert.Equal(t, 3, l.Len())

	tests := []struct {
		host string
		want bool
	}{
		{"ads.example.com", true},
		{"x.ads.example.com", true},
		{"ADS.Example.com.", true},
		{"example.com", false},
		{"badads.example.com", false},
		{"tracker.net", true},
		{"cdn.tracker.net", true},
		{"nottracker.net", false},
		{"telemetry.org", true},
		{"telemetry.org.evil.com", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Blocked(tt.host), tt.host)
	}
}

func TestEmpty(t *testing.T) {
	var nilList *List
	assert.False(t, nilList.Blocked("example.com"))
	assert.Equal(t, 0, nilList.Len())
	assert.False(t, New(nil).Blocked("example.com"))
}

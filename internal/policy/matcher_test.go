package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

func TestMatch_SubstringCaseInsensitive(t *testing.T) {
	p := domain.Policy{Entries: []domain.PolicyEntry{
		{ProcessNamePattern: "chrome", Severity: "high"},
	}}
	snapshots := []domain.ProcessSnapshot{
		{PID: 10, Name: "GoogleChrome"},
		{PID: 11, Name: "notepad"},
	}

	got := Match("host-1", snapshots, p)

	require.Len(t, got, 1)
	assert.Equal(t, domain.Violation{
		DeviceID:    "host-1",
		AppDetected: "googlechrome",
		Severity:    "high",
		ProcessID:   10,
	}, got[0])
}

func TestMatch_Ordering(t *testing.T) {
	p := domain.Policy{Entries: []domain.PolicyEntry{
		{ProcessNamePattern: "steam", Severity: "medium"},
		{ProcessNamePattern: "STEAMWEB", Severity: "low"},
		{ProcessNamePattern: "torrent", Severity: "critical"},
	}}
	snapshots := []domain.ProcessSnapshot{
		{PID: 3, Name: "qbittorrent"},
		{PID: 1, Name: "steamwebhelper"},
		{PID: 2, Name: "bash"},
	}

	got := Match("dev", snapshots, p)

	require.Len(t, got, 3)
	// snapshot order first, then policy order
	assert.Equal(t, 3, got[0].ProcessID)
	assert.Equal(t, "critical", got[0].Severity)
	assert.Equal(t, 1, got[1].ProcessID)
	assert.Equal(t, "medium", got[1].Severity)
	assert.Equal(t, 1, got[2].ProcessID)
	assert.Equal(t, "low", got[2].Severity)
}

func TestMatch_EdgeCases(t *testing.T) {
	tests := []struct {
		name      string
		entries   []domain.PolicyEntry
		snapshots []domain.ProcessSnapshot
		wantLen   int
	}{
		{
			name:      "empty policy",
			snapshots: []domain.ProcessSnapshot{{PID: 1, Name: "steam"}},
			wantLen:   0,
		},
		{
			name:    "no processes",
			entries: []domain.PolicyEntry{{ProcessNamePattern: "steam", Severity: "high"}},
			wantLen: 0,
		},
		{
			name:      "empty pattern never matches",
			entries:   []domain.PolicyEntry{{ProcessNamePattern: "", Severity: "high"}},
			snapshots: []domain.ProcessSnapshot{{PID: 1, Name: "anything"}},
			wantLen:   0,
		},
		{
			name:      "exact name matches",
			entries:   []domain.PolicyEntry{{ProcessNamePattern: "Discord", Severity: "low"}},
			snapshots: []domain.ProcessSnapshot{{PID: 7, Name: "discord"}},
			wantLen:   1,
		},
		{
			name:      "pattern longer than name",
			entries:   []domain.PolicyEntry{{ProcessNamePattern: "discordcanary", Severity: "low"}},
			snapshots: []domain.ProcessSnapshot{{PID: 7, Name: "discord"}},
			wantLen:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match("dev", tt.snapshots, domain.Policy{Entries: tt.entries})
			assert.Len(t, got, tt.wantLen)
		})
	}
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCandidateNormalize tests the default priority
func TestCandidateNormalize(t *testing.T) {
	c := Candidate{Channel: ChannelGroup, Title: "hi"}
	c.Normalize()

	assert.Equal(t, PriorityNormal, c.Priority)
	assert.NotNil(t, c.Metadata)
	assert.NoError(t, c.Validate())
}

// TestCandidateValidate tests channel, priority and title checks
func TestCandidateValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Candidate
		wantErr bool
	}{
		{name: "valid", c: Candidate{Channel: ChannelMention, Priority: PriorityUrgent, Title: "t"}},
		{name: "unknown channel", c: Candidate{Channel: "sms", Priority: 1, Title: "t"}, wantErr: true},
		{name: "priority too low", c: Candidate{Channel: ChannelDirectMessage, Priority: 0, Title: "t"}, wantErr: true},
		{name: "priority too high", c: Candidate{Channel: ChannelDirectMessage, Priority: 5, Title: "t"}, wantErr: true},
		{name: "missing title", c: Candidate{Channel: ChannelEvent, Priority: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.c.Validate() != nil)
		})
	}
}

// TestObservanceMinutes tests prayer window durations
func TestObservanceMinutes(t *testing.T) {
	assert.Equal(t, 20, ObservanceMinutes(PrayerFajr))
	assert.Equal(t, 20, ObservanceMinutes("isha"))
	assert.Equal(t, 15, ObservanceMinutes(PrayerDhuhr))
	assert.Equal(t, 15, ObservanceMinutes(PrayerAsr))
	assert.Equal(t, 15, ObservanceMinutes(PrayerMaghrib))
	assert.Equal(t, 15, ObservanceMinutes("Jumuah"))
}

// TestCommunityEventCandidate tests event to candidate mapping
func TestCommunityEventCandidate(t *testing.T) {
	e := CommunityEvent{
		ID:         "evt-1",
		Type:       EventMention,
		SenderID:   "alice",
		Recipients: []string{"bob"},
		Title:      "Alice mentioned you",
		Body:       "@bob see this",
		Metadata:   map[string]any{"group_id": "g1"},
	}
	assert.NoError(t, e.Validate())

	c := e.CandidateFor()
	assert.Equal(t, ChannelMention, c.Channel)
	assert.Equal(t, PriorityNormal, c.Priority)
	assert.Equal(t, "g1", c.Metadata["group_id"])
	assert.Equal(t, "evt-1", c.Metadata["event_id"])
	assert.Equal(t, "alice", c.Metadata["sender_id"])
	assert.NotContains(t, e.Metadata, "event_id", "event metadata is not mutated")
}

// TestCommunityEventValidate tests rejected events
func TestCommunityEventValidate(t *testing.T) {
	assert.Error(t, CommunityEvent{Type: "user.signup", Recipients: []string{"a"}, Title: "t"}.Validate())
	assert.Error(t, CommunityEvent{Type: EventGroupMessage, Title: "t"}.Validate())
	assert.Error(t, CommunityEvent{Type: EventGroupMessage, Recipients: []string{"a"}}.Validate())
}

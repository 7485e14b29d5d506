package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{
			name:  "naive timestamp is UTC",
			input: "2026-03-10T15:30:00",
			want:  time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC),
		},
		{
			name:  "naive with fraction",
			input: "2026-03-10T15:30:00.123456",
			want:  time.Date(2026, 3, 10, 15, 30, 0, 123456000, time.UTC),
		},
		{
			name:  "rfc3339 with zone",
			input: "2026-03-10T15:30:00+02:00",
			want:  time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC),
		},
		{
			name:  "rfc3339 zulu",
			input: "2026-03-10T15:30:00Z",
			want:  time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServerTime(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}

	_, err := ParseServerTime("10/03/2026 15:30")
	assert.Error(t, err)
}

func TestIsZeroDate(t *testing.T) {
	assert.True(t, IsZeroDate(""))
	assert.True(t, IsZeroDate("0001-01-01T00:00:00"))
	assert.True(t, IsZeroDate("0001-01-01T00:00:00Z"))
	assert.True(t, IsZeroDate("garbage"))
	assert.False(t, IsZeroDate("2026-03-10T15:30:00"))
	assert.False(t, IsZeroDate("2026-03-10T15:30:00Z"))
}

func TestWireMessageToMessage(t *testing.T) {
	wire := WireMessage{
		ID:             "m1",
		ConversationID: 7,
		SenderID:       "bob",
		Content:        "hello",
		SentAt:         "2026-03-10T15:30:00",
		DeletedAt:      "0001-01-01T00:00:00",
		AttachmentURLs: []string{"/files/m1/pic.png"},
	}

	msg, err := wire.ToMessage()
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, int64(7), msg.ConversationID)
	assert.Equal(t, "hello", msg.Text)
	assert.False(t, msg.IsDeleted)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC), msg.SentAt)
	assert.Equal(t, []string{"/files/m1/pic.png"}, msg.AttachmentURLs)
}

func TestWireMessageToMessageDeleted(t *testing.T) {
	wire := WireMessage{
		ID:        "m2",
		SentAt:    "2026-03-10T15:30:00",
		DeletedAt: "2026-03-10T16:00:00",
	}

	msg, err := wire.ToMessage()
	require.NoError(t, err)
	assert.True(t, msg.IsDeleted)
}

func TestWireMessageToMessageRejectsBadRecords(t *testing.T) {
	_, err := (&WireMessage{SentAt: "2026-03-10T15:30:00"}).ToMessage()
	assert.Error(t, err)

	_, err = (&WireMessage{ID: "m1", SentAt: "not a date"}).ToMessage()
	assert.Error(t, err)
}

func TestResolveDirection(t *testing.T) {
	msg := Message{SenderID: "alice"}
	msg.ResolveDirection("alice")
	assert.Equal(t, DirectionOutgoing, msg.Direction)

	msg = Message{SenderID: "bob"}
	msg.ResolveDirection("alice")
	assert.Equal(t, DirectionIncoming, msg.Direction)
}

func TestProfileGetDisplayName(t *testing.T) {
	var nilProfile *Profile
	assert.Equal(t, "", nilProfile.GetDisplayName())

	assert.Equal(t, "Bob K.", (&Profile{UserID: "bob", DisplayName: "Bob K."}).GetDisplayName())
	assert.Equal(t, "bob", (&Profile{UserID: "bob"}).GetDisplayName())
}

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{
			name: "no tags",
			tags: nil,
			want: "",
		},
		{
			name: "unrelated tags only",
			tags: []string{"band1", "tile:8843"},
			want: "",
		},
		{
			name: "session tag",
			tags: []string{"band1", "canfar_session:abc123"},
			want: "abc123",
		},
		{
			name: "first matching tag wins",
			tags: []string{"canfar_session:first", "canfar_session:second"},
			want: "first",
		},
		{
			name: "id is trimmed",
			tags: []string{"canfar_session:  abc123  "},
			want: "abc123",
		},
		{
			name: "empty id after trim counts as no tag",
			tags: []string{"canfar_session:   "},
			want: "",
		},
		{
			name: "prefix must match exactly",
			tags: []string{"CANFAR_SESSION:abc123"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSessionID(tt.tags))
		})
	}
}

func TestSessionTagRoundTrip(t *testing.T) {
	tag := SessionTag("abc123")
	assert.Equal(t, "canfar_session:abc123", tag)
	assert.Equal(t, "abc123", ExtractSessionID([]string{tag}))
}

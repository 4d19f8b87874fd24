package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	svc := NewService()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "strips emphasis",
			input: "SOC 2 is an **auditing framework** with *five* trust criteria.",
			want:  "SOC 2 is an auditing framework with five trust criteria.",
		},
		{
			name:  "heading loses marker",
			input: "## Timeline\nMost audits finish in days.",
			want:  "Timeline\nMost audits finish in days.",
		},
		{
			name:  "list items keep bullets",
			input: "Steps:\n- connect your stack\n- run the scan",
			want:  "Steps:\n- connect your stack\n- run the scan",
		},
		{
			name:  "inline code keeps literal",
			input: "Set `AUDIT_MODE=1` to enable it.",
			want:  "Set AUDIT_MODE=1 to enable it.",
		},
		{
			name:  "link keeps text only",
			input: "See [our docs](https://example.com/docs) for details.",
			want:  "See our docs for details.",
		},
		{
			name:  "soft break becomes space",
			input: "first line\nsecond line",
			want:  "first line second line",
		},
		{
			name:  "plain text unchanged",
			input: "No markdown here.",
			want:  "No markdown here.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.PlainText(tt.input))
		})
	}
}

func TestPlainText_LinkURLs(t *testing.T) {
	svc := NewService(WithLinkURLs())

	got := svc.PlainText("See [our docs](https://example.com/docs).")
	assert.Equal(t, "See our docs (https://example.com/docs).", got)
}

package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "script", input: `Launch <script>alert(1)</script>party`, expected: `Launch party`},
		{name: "tags", input: `<b>Board</b> games`, expected: `Board games`},
		{name: "ampersand kept", input: `Code & Coffee`, expected: `Code & Coffee`},
		{name: "plain", input: `Meetup`, expected: `Meetup`},
		{name: "empty", input: ``, expected: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Text(tt.input))
		})
	}
}

func TestHTML(t *testing.T) {
	require.Equal(t, `<p>Bring <b>snacks</b></p>`, HTML(`<p onclick="x()">Bring <b>snacks</b></p>`))
	require.Equal(t, `<p>Hi </p>`, HTML(`<p>Hi <iframe src="https://evil.test"></iframe></p>`))
	require.Equal(t, `Click`, HTML(`<a href="javascript:alert(1)">Click</a>`))
}

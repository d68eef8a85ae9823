package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepRule(t *testing.T) {
	tests := []struct {
		input   string
		want    KeepRule
		wantErr string
	}{
		{input: "0:3650", want: KeepRule{Interval: 0, MinAge: 3650}},
		{input: " 7:62 ", want: KeepRule{Interval: 7, MinAge: 62}},
		{input: "7", wantErr: "expected n:m"},
		{input: "x:7", wantErr: "invalid interval"},
		{input: "-1:7", wantErr: "invalid interval"},
		{input: "1:", wantErr: "invalid age"},
		{input: "1:-7", wantErr: "invalid age"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKeepRule(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) KeepRule {
	t.Helper()
	rule, err := ParseKeepRule(s)
	require.NoError(t, err)
	return rule
}

func TestRetentionPolicy_Sorted(t *testing.T) {
	policy := RetentionPolicy{Keep: []KeepRule{
		{Interval: 1, MinAge: 7},
		{Interval: 0, MinAge: 3650},
		{Interval: 7, MinAge: 62},
		{Interval: 365, MinAge: 1460},
		{Interval: 30, MinAge: 720},
	}}

	assert.Equal(t, DefaultRetention().Keep, policy.Sorted())
	// The receiver is left untouched.
	assert.Equal(t, KeepRule{Interval: 1, MinAge: 7}, policy.Keep[0])
}

func TestDefaultRetention_Rendered(t *testing.T) {
	var rendered []string
	for _, rule := range DefaultRetention().Sorted() {
		rendered = append(rendered, rule.String())
	}
	assert.Equal(t, []string{"0:3650", "365:1460", "30:720", "7:62", "1:7"}, rendered)
}

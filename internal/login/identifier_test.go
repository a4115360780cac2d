package login

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      string
		wantPhone bool
	}{
		{
			name:      "international phone with separators",
			raw:       "+7 912 345-67-89",
			want:      "79123456789",
			wantPhone: true,
		},
		{
			name:      "domestic trunk prefix folded",
			raw:       "89123456789",
			want:      "79123456789",
			wantPhone: true,
		},
		{
			name:      "bare country-code phone untouched",
			raw:       "79123456789",
			want:      "79123456789",
			wantPhone: true,
		},
		{
			name:      "ten digit phone",
			raw:       "9123456789",
			want:      "9123456789",
			wantPhone: true,
		},
		{
			name:      "parenthesized phone",
			raw:       "8 (912) 345-67-89",
			want:      "79123456789",
			wantPhone: true,
		},
		{
			name:      "email passes through",
			raw:       "user@example.com",
			want:      "user@example.com",
			wantPhone: false,
		},
		{
			name:      "username passes through",
			raw:       "cool_user",
			want:      "cool_user",
			wantPhone: false,
		},
		{
			name:      "short digit string is a username",
			raw:       "12345",
			want:      "12345",
			wantPhone: false,
		},
		{
			name:      "plus without digits is not a phone",
			raw:       "+abc",
			want:      "+abc",
			wantPhone: false,
		},
		{
			name:      "surrounding whitespace trimmed",
			raw:       "  user@example.com  ",
			want:      "user@example.com",
			wantPhone: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isPhone := ClassifyIdentifier(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantPhone, isPhone)
		})
	}
}

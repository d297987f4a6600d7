package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate flag and value",
			args:    []string{"-a", ":13431", "-x", "nope"},
			allowed: []string{"-a"},
			want:    []string{"-a", ":13431"},
		},
		{
			name:    "equals form",
			args:    []string{"--config=auth.json", "-d=auth.sqlite"},
			allowed: []string{"--config", "-d"},
			want:    []string{"--config=auth.json", "-d=auth.sqlite"},
		},
		{
			name:    "flag without value followed by another flag",
			args:    []string{"-autosetup", "-d", "auth.sqlite"},
			allowed: []string{"-autosetup"},
			want:    []string{"-autosetup"},
		},
		{
			name:    "nothing allowed",
			args:    []string{"-a", "x"},
			allowed: nil,
			want:    []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FilterArgs(tc.args, tc.allowed))
		})
	}
}

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"GET /api/webhooks/{id}", "/api/webhooks/:"},
		{"POST /api/webhooks/{id}/test", "/api/webhooks/:/test"},
		{"", ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizePath(tt.in), tt.in)
	}
}

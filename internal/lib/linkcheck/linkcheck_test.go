package linkcheck

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khabusiness/rusbridge-orders/internal/models"
)

func TestValidate(t *testing.T) {
	allowed := []string{"chatgpt.com", "openai.com"}

	tests := []struct {
		name    string
		raw     string
		allowed []string
		want    string
		wantErr error
	}{
		{
			name:    "valid allowlisted link",
			raw:     "https://chatgpt.com/pay/abc",
			allowed: allowed,
			want:    "https://chatgpt.com/pay/abc",
		},
		{
			name:    "subdomain of allowlisted domain",
			raw:     "https://pay.openai.com/session?id=42",
			allowed: allowed,
			want:    "https://pay.openai.com/session?id=42",
		},
		{
			name:    "host is lowercased and trailing dot stripped",
			raw:     "https://ChatGPT.com./pay",
			allowed: allowed,
			want:    "https://chatgpt.com/pay",
		},
		{
			name:    "empty allowlist accepts any https host",
			raw:     "https://example.org/x",
			allowed: nil,
			want:    "https://example.org/x",
		},
		{
			name:    "empty input",
			raw:     "   ",
			allowed: allowed,
			wantErr: models.ErrBadServiceLink,
		},
		{
			name:    "extra words around url",
			raw:     "вот ссылка https://chatgpt.com/pay",
			allowed: allowed,
			wantErr: models.ErrBadServiceLink,
		},
		{
			name:    "http scheme rejected",
			raw:     "http://chatgpt.com/pay",
			allowed: allowed,
			wantErr: models.ErrBadServiceLink,
		},
		{
			name:    "shortener rejected even if allowlisted",
			raw:     "https://bit.ly/abc",
			allowed: []string{"bit.ly"},
			wantErr: models.ErrBadServiceLink,
		},
		{
			name:    "domain outside allowlist",
			raw:     "https://evil.example/pay",
			allowed: allowed,
			wantErr: models.ErrDisallowedDomain,
		},
		{
			name:    "suffix trick does not match allowlist",
			raw:     "https://notchatgpt.com/pay",
			allowed: allowed,
			wantErr: models.ErrDisallowedDomain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.raw, tt.allowed)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

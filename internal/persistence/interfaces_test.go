package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBrokerCredential_Active(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		cred   BrokerCredential
		active bool
	}{
		{"active_no_expiry", BrokerCredential{Status: "ACTIVE"}, true},
		{"active_unexpired", BrokerCredential{Status: "ACTIVE", TokenExpiresAt: &future}, true},
		{"active_expired", BrokerCredential{Status: "ACTIVE", TokenExpiresAt: &past}, false},
		{"revoked", BrokerCredential{Status: "REVOKED", TokenExpiresAt: &future}, false},
		{"empty_status", BrokerCredential{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.active, tt.cred.Active(now))
		})
	}
}

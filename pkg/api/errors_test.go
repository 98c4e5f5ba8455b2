package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/storage"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation error", storage.NewValidationError("state", "unknown"), http.StatusBadRequest},
		{"wrapped validation error", fmt.Errorf("update: %w", storage.NewValidationError("x", "y")), http.StatusBadRequest},
		{"not found", storage.ErrNotFound, http.StatusNotFound},
		{"invalid transition", storage.ErrInvalidTransition, http.StatusConflict},
		{"already exists", storage.ErrAlreadyExists, http.StatusConflict},
		{"invalid key", tenant.ErrInvalidKey, http.StatusUnauthorized},
		{"expired key", tenant.ErrKeyExpired, http.StatusUnauthorized},
		{"disabled tenant", tenant.ErrTenantDisabled, http.StatusUnauthorized},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapStoreError(tt.err)
			require.NotNil(t, he)
			assert.Equal(t, tt.wantCode, he.Code)
		})
	}
}

func TestMapStoreErrorHidesInternalDetail(t *testing.T) {
	he := mapStoreError(errors.New("pq: connection refused to 10.0.0.5"))
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Equal(t, "internal server error", he.Message)
}

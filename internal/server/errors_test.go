package server

import (
	"fmt"
	"net/http"
	"testing"

	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/creditgate/internal/usage/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorCommitFailuresAreNotDenials(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{
			name: "invariant violation",
			err:  fmt.Errorf("%w: %w", usagedomain.ErrInvariantViolation, ledgerdomain.ErrInsufficientCredits),
			code: "invariant_violation",
		},
		{
			name: "commit failed on repeated duplicate",
			err:  fmt.Errorf("%w: %w", usagedomain.ErrCommitFailed, ledgerdomain.ErrDuplicateTransaction),
			code: "commit_failed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, http.StatusServiceUnavailable, status)
			assert.Equal(t, "service_unavailable", payload.Type)
			assert.Equal(t, tc.code, payload.Code)
			assert.Empty(t, payload.Action)

			errType, errCode := classifyErrorForLog(tc.err)
			assert.Equal(t, "service_unavailable", errType)
			assert.Equal(t, tc.code, errCode)
		})
	}
}

func TestMapErrorInsufficientCreditsIsDenial(t *testing.T) {
	status, payload := mapError(fmt.Errorf("charge: %w", ledgerdomain.ErrInsufficientCredits))
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "denied", payload.Type)
	assert.Equal(t, "top_up", payload.Action)
}

package apierr_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, apierr.ErrAuth},
		{403, apierr.ErrAuth},
		{404, apierr.ErrNotFound},
		{422, apierr.ErrValidation},
		{400, apierr.ErrRequest},
		{409, apierr.ErrRequest},
		{500, apierr.ErrServer},
		{503, apierr.ErrServer},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, apierr.KindForStatus(tc.status))
		})
	}
}

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := &apierr.Error{
		Kind:       apierr.ErrServer,
		Method:     "GET",
		Path:       "/namespaces/",
		StatusCode: 502,
		Err:        io.ErrUnexpectedEOF,
	}
	wrapped := fmt.Errorf("list namespaces: %w", err)

	require.ErrorIs(t, wrapped, apierr.ErrServer)
	require.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, wrapped, apierr.ErrAuth)
	assert.True(t, apierr.IsRetryable(wrapped))

	var apiErr *apierr.Error
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, 502, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "GET /namespaces/ -> 502")
}

func TestValidationErrorSummarizesIssues(t *testing.T) {
	err := apierr.Validation("response failed schema check",
		apierr.Issue{Field: "path", Message: "is required"},
		apierr.Issue{Field: "meta", Message: "is required"},
		apierr.Issue{Field: "public", Message: "invalid type"},
		apierr.Issue{Field: "description", Message: "invalid type"},
	)
	msg := err.Error()
	assert.Contains(t, msg, "path: is required")
	assert.Contains(t, msg, "(and 1 more)")
	assert.False(t, apierr.IsRetryable(err))
}

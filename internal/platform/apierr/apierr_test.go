package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusAndCode_TypedErrors(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{Validation("bad"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{Unauthorized("nope"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{RouteNotBound(), http.StatusForbidden, "ROUTE_NOT_BOUND"},
		{Forbidden("nope"), http.StatusForbidden, "FORBIDDEN"},
		{NotFound("gone"), http.StatusNotFound, "NOT_FOUND"},
		{Conflict("dup"), http.StatusConflict, "CONFLICT"},
		{Upstream("boom", nil), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{Internal("oops"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, c := range cases {
		status, code := StatusAndCode(c.err)
		require.Equal(t, c.wantStatus, status)
		require.Equal(t, c.wantCode, code)
	}
}

func TestStatusAndCode_UntypedErrorDefaultsTo500(t *testing.T) {
	status, code := StatusAndCode(errors.New("plain"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "INTERNAL_ERROR", code)
}

func TestAsUpstream_ExtractsDetails(t *testing.T) {
	err := Upstream("provider failed", map[string]string{"reason": "rate limited"})
	details, ok := AsUpstream(err)
	require.True(t, ok)
	require.Equal(t, map[string]string{"reason": "rate limited"}, details)
}

func TestAsUpstream_FalseForOtherErrors(t *testing.T) {
	_, ok := AsUpstream(NotFound("gone"))
	require.False(t, ok)
}

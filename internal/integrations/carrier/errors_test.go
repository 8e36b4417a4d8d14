package carrier

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	require.NoError(t, FromHTTPStatus(200, nil))
	require.NoError(t, FromHTTPStatus(204, nil))

	require.Equal(t, KindUnauthorized, KindOf(FromHTTPStatus(302, nil)))
	require.Equal(t, KindUnauthorized, KindOf(FromHTTPStatus(401, nil)))
	require.Equal(t, KindNotFound, KindOf(FromHTTPStatus(404, nil)))
	require.Equal(t, KindRateLimited, KindOf(FromHTTPStatus(429, nil)))
	require.Equal(t, KindServer, KindOf(FromHTTPStatus(500, nil)))

	err := FromHTTPStatus(422, []byte(`{"message":"bad carrier"}`))
	require.Equal(t, KindServer, KindOf(err))
	require.Contains(t, err.Error(), "bad carrier")
	require.Equal(t, KindInvalidTrackingNumber, KindOf(FromHTTPStatus(422, []byte(`oops`))))
}

func TestTrackingError_IsAndWrap(t *testing.T) {
	err := errors.Wrap(FromHTTPStatus(429, nil), "get tracking")
	require.ErrorIs(t, err, ErrRateLimited)
	require.NotErrorIs(t, err, ErrUnauthorized)
	require.True(t, IsSystemic(err))
	require.False(t, IsSystemic(FromHTTPStatus(404, nil)))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))

	nerr := NetworkError(errors.New("dial tcp: refused"))
	require.ErrorIs(t, nerr, ErrNetwork)
	require.Contains(t, nerr.Error(), "do request")
}

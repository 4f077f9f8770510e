package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	err := New(CodeInvalidToken, "signature mismatch")
	assert.True(t, HasCode(err, CodeInvalidToken))
	assert.False(t, HasCode(err, CodeInvalidScope))
	assert.False(t, HasCode(nil, CodeInvalidToken))
	assert.False(t, HasCode(errors.New("plain"), CodeInvalidToken))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	cause := New(CodeConflict, "unique_id already taken")
	wrapped := fmt.Errorf("authorize user: %w", cause)
	assert.True(t, HasCode(wrapped, CodeConflict))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeNotConfigured, "discovery fetch failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeNotConfigured, CodeOf(err))

	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOfUntypedDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidToken:                  http.StatusUnauthorized,
		CodeInvalidScope:                  http.StatusUnauthorized,
		CodeNotConfigured:                 http.StatusNotFound,
		CodeNotFound:                      http.StatusNotFound,
		CodeValidation:                    http.StatusBadRequest,
		CodeIdentityBoundToOtherUser:      http.StatusConflict,
		CodeAuthorizationBoundToOtherUser: http.StatusConflict,
		CodeInternal:                      http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}

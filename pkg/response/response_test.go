package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/livesession/pkg/apperr"
)

func TestErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{fmt.Errorf("%w: cannot respond from connected", apperr.ErrInvalidStateTransition), http.StatusConflict, "cannot respond from connected"},
		{fmt.Errorf("%w: 4 of 4 on stage", apperr.ErrCapacityExceeded), http.StatusTooManyRequests, "4 of 4 on stage"},
		{fmt.Errorf("%w: needs 2 options", apperr.ErrInvalidPoll), http.StatusBadRequest, "needs 2 options"},
		{fmt.Errorf("%w: close first", apperr.ErrInvalidOperation), http.StatusBadRequest, "close first"},
		{fmt.Errorf("%w: hosts only", apperr.ErrForbidden), http.StatusForbidden, "hosts only"},
		{fmt.Errorf("%w: poll p1", apperr.ErrNotFound), http.StatusNotFound, "poll p1"},
		{fmt.Errorf("%w: boom", apperr.ErrPersistenceFailure), http.StatusServiceUnavailable, "couldn't save, please retry"},
		{errors.New("unexpected"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Error(c, tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Contains(t, w.Body.String(), tc.body)
	}
}

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zenj-service/internal/mocks"
	"zenj-service/internal/telemetry"
)

func TestDebugRoutesDisabled(t *testing.T) {
	r := testRouter()
	RegisterDebugRoutes(r, nil, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAuditPublishes(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.events", "zenj-service", "test", zap.NewNop())
	r := testRouter()
	RegisterDebugRoutes(r, emitter, true)

	publisher.On("Publish", mock.Anything, "audit.events", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.RequestID == "req-1" && env.UserID != nil && *env.UserID == "u1" && env.Payload.Action == telemetry.ActionDebugProbe
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

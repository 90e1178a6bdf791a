package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zenj-service/internal/apperr"
	"zenj-service/internal/middleware"
	"zenj-service/internal/mocks"
	"zenj-service/internal/models"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ActorKey, "u1")
		c.Next()
	})
	return r
}

func setupContactRouter(handler *ContactHandler) *gin.Engine {
	r := testRouter()
	r.GET("/contacts", handler.ListContacts)
	r.POST("/contacts", handler.CreateContact)
	r.GET("/contacts/:contact_id", handler.GetContact)
	r.PATCH("/contacts/:contact_id", handler.UpdateContact)
	r.POST("/contacts/:contact_id/block", handler.BlockContact)
	r.DELETE("/contacts/:contact_id/block", handler.UnblockContact)
	r.POST("/contacts/:contact_id/select", handler.SelectContact)
	r.DELETE("/focus", handler.ClearFocus)
	return r
}

func TestListContactsSuccess(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupContactRouter(NewContactHandler(dir, new(mocks.EngineMock)))

	dir.On("ListVisible", mock.Anything, "u1").Return([]models.Contact{{ID: "c1", Name: "Zed"}}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Contacts []models.Contact `json:"contacts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Contacts, 1)
	assert.Equal(t, "Zed", resp.Contacts[0].Name)
	dir.AssertExpectations(t)
}

func TestListContactsRepoError(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupContactRouter(NewContactHandler(dir, new(mocks.EngineMock)))

	dir.On("ListVisible", mock.Anything, "u1").Return(([]models.Contact)(nil), assert.AnError).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	dir.AssertExpectations(t)
}

func TestCreateContactForcesIndividual(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupContactRouter(NewContactHandler(dir, new(mocks.EngineMock)))

	dir.On("CreateContact", mock.Anything, "u1", models.ContactSpec{Name: "Zed", Phone: "+1"}).
		Return(models.Contact{ID: "c1", Name: "Zed"}, nil).Once()

	body := bytes.NewBufferString(`{"name":"Zed","phone":"+1","is_group":true,"members":["x"]}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contacts", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	dir.AssertExpectations(t)
}

func TestCreateContactValidationError(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupContactRouter(NewContactHandler(dir, new(mocks.EngineMock)))

	dir.On("CreateContact", mock.Anything, "u1", mock.Anything).
		Return(nil, apperr.Validation("contact name is required")).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contacts", bytes.NewBufferString(`{"name":" "}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "contact name is required")
}

func TestGetContactNotFound(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupContactRouter(NewContactHandler(dir, new(mocks.EngineMock)))

	dir.On("Contact", mock.Anything, "u1", "c9").Return(nil, apperr.NotFound("contact c9")).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts/c9", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateContactPermissionDenied(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupContactRouter(NewContactHandler(dir, new(mocks.EngineMock)))

	dir.On("UpdateContact", mock.Anything, "u1", "g1", mock.MatchedBy(func(p models.ContactPatch) bool {
		return p.OwnerID != nil && *p.OwnerID == "u2"
	})).Return(nil, apperr.Permission("only the owner may transfer ownership")).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/contacts/g1", bytes.NewBufferString(`{"owner_id":"u2"}`)))

	require.Equal(t, http.StatusForbidden, rec.Code)
	dir.AssertExpectations(t)
}

func TestBlockAndSelect(t *testing.T) {
	eng := new(mocks.EngineMock)
	router := setupContactRouter(NewContactHandler(new(mocks.DirectoryMock), eng))

	eng.On("Block", mock.Anything, "u1", "c1").Return(models.Contact{ID: "c1", Blocked: true}, nil).Once()
	eng.On("Select", mock.Anything, "u1", "c1").Return(nil, apperr.InvalidState("conversation c1 is blocked")).Once()
	eng.On("Unblock", mock.Anything, "u1", "c1").Return(models.Contact{ID: "c1"}, nil).Once()
	eng.On("Unfocus", "u1").Return().Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contacts/c1/block", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contacts/c1/select", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/contacts/c1/block", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/focus", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	eng.AssertExpectations(t)
}

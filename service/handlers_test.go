package service

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitTestHealthcheckHandler(t *testing.T) {
	upstream := newTestUpstream(t, `{}`)
	service, _ := newTestProxyService(t, upstream.URL, nil)

	handler := createHealthcheckHandler(service)

	recorder := httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestUnitTestServicecheckHandler(t *testing.T) {
	upstream := newTestUpstream(t, `{}`)
	service, _ := newTestProxyService(t, upstream.URL, nil)

	handler := createServicecheckHandler(service)

	recorder := httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodGet, "/servicecheck", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}

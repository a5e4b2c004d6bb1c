package problem

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderKnownKind(t *testing.T) {
	err := New(KindEntityNotFound, "image nginx not found")
	d := Render(err, "/containerregistries/dockerhub/images/nginx", false)
	assert.Equal(t, 404, d.Status)
	assert.Equal(t, baseURI+"entity_not_found", d.Type)
	assert.Equal(t, "image nginx not found", d.Detail)
	assert.NotEmpty(t, d.Title)
}

func TestRenderInternalErrorRedactsOutsideDevMode(t *testing.T) {
	d := Render(assertError("db exploded"), "/x", false)
	assert.Equal(t, 500, d.Status)
	assert.Empty(t, d.Detail)

	dDev := Render(assertError("db exploded"), "/x", true)
	assert.Equal(t, "db exploded", dDev.Detail)
}

type plainError string

func (e plainError) Error() string { return string(e) }

func assertError(msg string) error {
	return plainError(msg)
}

func TestWriteSetsHeadersAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images/missing", nil)

	Write(rec, req, New(KindEntityNotFound, "not found"), false)

	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), `problems#entity_not_found"`)
}

func TestETagDeterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.Equal(t, ETag(body), ETag(body))
	assert.NotEqual(t, ETag(body), ETag([]byte(`{"a":2}`)))
}

func TestSetEntityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetEntityHeaders(rec, []byte(`{}`), "1.0", "image", 1)
	assert.Equal(t, "1.0", rec.Header().Get("X-Registry-Spec-Version"))
	assert.Equal(t, "image", rec.Header().Get("X-Registry-Schema"))
	assert.Equal(t, "1", rec.Header().Get("X-Registry-Epoch"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

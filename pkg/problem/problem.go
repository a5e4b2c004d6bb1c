// Package problem implements the Error & Header Layer (C6, spec.md §4.6):
// RFC 9457 Problem-Details bodies, the error taxonomy, and the response
// headers every xRegistry response carries.
package problem

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
)

// Kind is one of the taxonomy entries of spec.md §4.6.
type Kind string

const (
	KindEntityNotFound     Kind = "entity_not_found"
	KindInvalidData        Kind = "invalid_data"
	KindEpochError         Kind = "epoch_error"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindConflict           Kind = "conflict"
	KindInternalError      Kind = "internal_error"
	KindServiceUnavailable Kind = "service_unavailable"
	KindAPINotFound        Kind = "api_not_found"
	KindMethodNotAllowed   Kind = "method_not_allowed"
)

// baseURI roots every Problem-Details `type` (spec.md §4.6 "a well-known
// spec URI").
const baseURI = "https://xregistry.io/problems#"

var statusByKind = map[Kind]int{
	KindEntityNotFound:     http.StatusNotFound,
	KindInvalidData:        http.StatusBadRequest,
	KindEpochError:         http.StatusConflict,
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindConflict:           http.StatusConflict,
	KindInternalError:      http.StatusInternalServerError,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindAPINotFound:        http.StatusNotFound,
	KindMethodNotAllowed:   http.StatusMethodNotAllowed,
}

var titleByKind = map[Kind]string{
	KindEntityNotFound:     "Entity was not found",
	KindInvalidData:        "Request data is invalid",
	KindEpochError:         "Epoch precondition failed",
	KindUnauthorized:       "Authentication is required",
	KindForbidden:          "Access to this entity is forbidden",
	KindConflict:           "Request conflicts with current state",
	KindInternalError:      "An internal error occurred",
	KindServiceUnavailable: "Upstream service is unavailable",
	KindAPINotFound:        "No such API route",
	KindMethodNotAllowed:   "Method is not allowed",
}

// Details is the RFC 9457 Problem-Details document.
type Details struct {
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Instance string      `json:"instance"`
	Detail   string      `json:"detail,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// Error is a typed error carrying enough to render a Details body. Handlers
// return *Error (or a plain error, caught as KindInternalError) and the
// router's top-level writer renders it.
type Error struct {
	Kind   Kind
	Detail string
	Data   interface{}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

// New constructs a typed problem Error.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// NewWithData attaches structured data (e.g. the epoch mismatch's actual
// value) to a problem Error.
func NewWithData(kind Kind, detail string, data interface{}) *Error {
	return &Error{Kind: kind, Detail: detail, Data: data}
}

// Render builds the Details body for err at instance. devMode controls
// whether KindInternalError's detail is preserved or redacted (spec.md §4.6
// "detail redacted outside development mode").
func Render(err error, instance string, devMode bool) Details {
	kind := KindInternalError
	detail := err.Error()
	var data interface{}

	if pe, ok := err.(*Error); ok {
		kind = pe.Kind
		detail = pe.Detail
		data = pe.Data
	}

	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
		kind = KindInternalError
	}

	if kind == KindInternalError && !devMode {
		detail = ""
	}

	return Details{
		Type:     baseURI + string(kind),
		Title:    titleByKind[kind],
		Status:   status,
		Instance: instance,
		Detail:   detail,
		Data:     data,
	}
}

// Write renders err as a Problem-Details JSON response and sets the
// response headers spec.md §4.6 mandates for every response.
func Write(w http.ResponseWriter, r *http.Request, err error, devMode bool) {
	d := Render(err, r.URL.Path, devMode)
	SetCommonHeaders(w)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

// SetCommonHeaders sets the headers every response carries regardless of
// status (spec.md §4.6): Content-Type default, Cache-Control, and CORS.
func SetCommonHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-cache")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "Link, ETag, X-Registry-Spec-Version, X-Registry-Schema, X-Registry-Epoch, X-Request-Id")
}

// SetEntityHeaders sets the additional headers an entity (non-collection,
// non-error) response carries: ETag, and the X-Registry-* trio.
func SetEntityHeaders(w http.ResponseWriter, body []byte, specVersion, schema string, epoch uint) {
	h := w.Header()
	h.Set("ETag", ETag(body))
	h.Set("X-Registry-Spec-Version", specVersion)
	if schema != "" {
		h.Set("X-Registry-Schema", schema)
	}
	h.Set("X-Registry-Epoch", strconv.FormatUint(uint64(epoch), 10))
}

// ETag computes the MD5-based quoted (strong) entity tag spec.md §4.6 mandates
// ("ETag (MD5 of the canonicalized body)").
func ETag(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

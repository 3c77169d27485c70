package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
)

// ErrEmptyBody is returned when a request that needs a payload has none
var ErrEmptyBody = errors.New("request body is empty")

// BindNestedOrFlat decodes the body into obj. Clients may wrap the payload
// in an envelope named after the resource ({"statement": {...}}) or send
// the fields at the top level. The body stays readable afterwards.
func BindNestedOrFlat(c *gin.Context, key string, obj any) error {
	if c.Request.Body == nil {
		return ErrEmptyBody
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrEmptyBody
	}

	var envelope map[string]json.RawMessage
	if json.Unmarshal(raw, &envelope) == nil {
		if inner, ok := envelope[key]; ok {
			return json.Unmarshal(inner, obj)
		}
	}
	return json.Unmarshal(raw, obj)
}

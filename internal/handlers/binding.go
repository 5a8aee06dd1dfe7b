package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
)

// maxJSONBody bounds JSON request bodies; documents go through multipart upload
const maxJSONBody = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// BindNestedOrFlat binds the request body to obj. A body wrapped in the given
// key ({"agreement": {...}}) binds the nested object; anything else binds flat.
// An empty body leaves obj untouched.
func BindNestedOrFlat(c *gin.Context, key string, obj interface{}) error {
	var bodyBytes []byte
	if c.Request.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(io.LimitReader(c.Request.Body, maxJSONBody+1))
		if err != nil {
			return err
		}
	}
	if len(bodyBytes) > maxJSONBody {
		return errBodyTooLarge
	}
	// Restore body for subsequent reads
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	if len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}

	var nestedMap map[string]json.RawMessage
	if err := json.Unmarshal(bodyBytes, &nestedMap); err == nil {
		if val, ok := nestedMap[key]; ok {
			return json.Unmarshal(val, obj)
		}
	}

	return json.Unmarshal(bodyBytes, obj)
}

package signalk

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PutRequest asks the Signal K server to set a path.
type PutRequest struct {
	Context   string  `json:"context"`
	RequestID string  `json:"requestId"`
	Put       PutItem `json:"put"`
}

// PutItem is the target and value of a PUT.
type PutItem struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// NewPut builds a PUT request for path with a fresh request id.
func NewPut(context, path string, value any) (PutRequest, error) {
	if !ValidPath(path) {
		return PutRequest{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if context == "" {
		context = SelfContext
	}
	return PutRequest{
		Context:   context,
		RequestID: uuid.NewString(),
		Put:       PutItem{Path: path, Value: value},
	}, nil
}

// Encode returns the JSON document.
func (r PutRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}

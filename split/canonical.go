package split

import (
	"encoding/json"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"

	"github.com/podgraph/pod"
)

// Canonical validates a subject's metadata document
// and returns it in canonical JSON form.
// The document must be a JSON object.
func Canonical(data []byte) (json.RawMessage, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.Wrapf(pod.ErrValidation, "parsing metadata: %s", err)
	}
	if obj == nil {
		return nil, errors.Wrap(pod.ErrValidation, "metadata is not a JSON object")
	}
	out, err := canonicaljson.Marshal(obj)
	if err != nil {
		return nil, errors.Wrapf(pod.ErrValidation, "canonicalizing metadata: %s", err)
	}
	return out, nil
}

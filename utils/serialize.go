package utils

import (
	"encoding/json"

	"github.com/juju/errors"
)

// Serialize encodes checkpoints and driver records
func Serialize(o any) ([]byte, error) {
	b, err := json.Marshal(o)
	return b, errors.Annotatef(err, "serialize %T", o)
}

func Unserialize(b []byte, o any) error {
	if len(b) == 0 {
		return errors.NotValidf("empty document for %T", o)
	}
	return errors.Annotatef(json.Unmarshal(b, o), "unserialize %T", o)
}

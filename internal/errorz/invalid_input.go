package errorz

import (
	"errors"
	"slices"
	"strings"
)

// InvalidInput signals that a provided input is invalid due to the wrapped errors.
type InvalidInput []error

func (e InvalidInput) Error() string {
	fields := e.Fields()
	if len(fields) == 0 {
		return "invalid input"
	}

	return "invalid input: " + strings.Join(fields, "; ")
}

func (e InvalidInput) Unwrap() []error {
	return e
}

// Fields describes the offending fields as sorted "key: message" strings.
// Only errors keyed by a field name are included, other errors might
// contain details that should not reach a client.
func (e InvalidInput) Fields() []string {
	var fields []string
	for _, err := range e {
		var keyed Keyed
		if errors.As(err, &keyed) {
			fields = append(fields, keyed.Error())
		}
	}

	slices.Sort(fields)

	return fields
}

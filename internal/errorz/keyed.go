package errorz

import "errors"

// Keyed ties an error to the input field it was caused by.
type Keyed struct {
	Key string
	Err error
}

// Field returns a Keyed error with msg as the message.
func Field(key, msg string) Keyed {
	return Keyed{Key: key, Err: errors.New(msg)}
}

func (k Keyed) Error() string {
	return k.Key + ": " + k.Err.Error()
}

func (k Keyed) Unwrap() error {
	return k.Err
}

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/gorilla/schema"
	"github.com/willemschots/dreambig/internal/errorz"
)

const maxBodyBytes = 1 << 20

type message struct {
	Message string `json:"message"`
}

type detail struct {
	Detail string `json:"detail"`
}

// defaultRequest is the default way to map a request to a struct.
// Both form encoded and JSON bodies are decoded using the schema tags
// of IN, query parameters are included for all methods.
func defaultRequest[IN any](s *Server, r *http.Request) (IN, error) {
	var in IN

	values, err := requestValues(r)
	if err != nil {
		return in, err
	}

	err = s.decoder.Decode(&in, values)
	return in, decodeError(err)
}

// requestValues flattens the request body and query into url.Values.
func requestValues(r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		err := r.ParseForm()
		if err != nil {
			return nil, invalidBody(err)
		}
		return r.Form, nil
	}

	obj, err := decodeJSONObject(r)
	if err != nil {
		return nil, err
	}

	values := r.URL.Query()
	for k, v := range obj {
		switch vv := v.(type) {
		case nil:
			continue
		case string:
			values.Set(k, vv)
		case bool, float64:
			values.Set(k, fmt.Sprint(vv))
		default:
			return nil, errorz.InvalidInput{errorz.Keyed{
				Key: k,
				Err: errors.New("must be a string, number or boolean"),
			}}
		}
	}

	return values, nil
}

// decodeJSONObject decodes a JSON object body. An empty body is an empty object.
func decodeJSONObject(r *http.Request) (map[string]any, error) {
	obj := map[string]any{}
	if r.Body == nil || r.Body == http.NoBody {
		return obj, nil
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	err := dec.Decode(&obj)
	if err != nil {
		return nil, invalidBody(err)
	}

	// json.Number doesn't survive the type switch in requestValues.
	for k, v := range obj {
		if n, ok := v.(json.Number); ok {
			obj[k] = n.String()
		}
	}

	return obj, nil
}

// decodeJSON decodes a JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	err := dec.Decode(dst)
	if err != nil {
		return invalidBody(err)
	}
	return nil
}

func invalidBody(err error) error {
	return errorz.InvalidInput{errorz.Keyed{
		Key: "body",
		Err: err,
	}}
}

func decodeError(err error) error {
	if err == nil {
		return nil
	}

	var multiErr schema.MultiError
	if errors.As(err, &multiErr) {
		var invalidInput errorz.InvalidInput
		for key, e := range multiErr {
			invalidInput = append(invalidInput, errorz.Keyed{
				Key: key,
				Err: conversionCause(e),
			})
		}

		return invalidInput
	}

	return err
}

// conversionCause unwraps schema conversion errors so the errors of
// our own text unmarshalers remain visible.
func conversionCause(err error) error {
	var convErr schema.ConversionError
	if errors.As(err, &convErr) && convErr.Err != nil {
		return convErr.Err
	}

	var emptyErr schema.EmptyFieldError
	if errors.As(err, &emptyErr) {
		return errors.New("field is required")
	}

	return err
}

// writeJSON writes v as JSON with the provided status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

package web

import (
	"errors"
	"net/http"

	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/errorz"
)

// loginRequest reads the OAuth2 password form. Malformed credentials
// are reported the same way as wrong ones.
func loginRequest(r *http.Request) (auth.Credentials, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	err := r.ParseForm()
	if err != nil {
		return auth.Credentials{}, invalidBody(err)
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	var invalidInput errorz.InvalidInput
	if username == "" {
		invalidInput = append(invalidInput, errorz.Field("username", "field is required"))
	}
	if password == "" {
		invalidInput = append(invalidInput, errorz.Field("password", "field is required"))
	}
	if len(invalidInput) > 0 {
		return auth.Credentials{}, invalidInput
	}

	addr, err := email.ParseAddress(username)
	if err != nil {
		return auth.Credentials{}, auth.ErrInvalidCredentials
	}

	pwd, err := auth.ParsePassword(password)
	if err != nil {
		return auth.Credentials{}, auth.ErrInvalidCredentials
	}

	return auth.Credentials{
		Email:    addr,
		Password: pwd,
	}, nil
}

// profileRequest reads a partial profile update, absent fields remain unchanged.
func profileRequest(r *http.Request) (auth.ProfileUpdate, error) {
	var raw struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}

	err := decodeJSON(r, &raw)
	if err != nil {
		return auth.ProfileUpdate{}, err
	}

	upd := auth.ProfileUpdate{
		Name: raw.Name,
	}

	if raw.Email != nil {
		addr, err := email.ParseAddress(*raw.Email)
		if err != nil {
			return auth.ProfileUpdate{}, errorz.InvalidInput{errorz.Keyed{Key: "email", Err: err}}
		}
		upd.Email = &addr
	}

	return upd, nil
}

func mapChangeError(err error) error {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return errIncorrectPassword
	}
	return err
}

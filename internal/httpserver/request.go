package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

const msgWrongFormat = "Wrong format"

type createUserRequest struct {
	Email     string `json:"email" validate:"required,max=254"`
	Password  string `json:"password" validate:"required,max=128"`
	FirstName string `json:"first_name" validate:"max=128"`
	LastName  string `json:"last_name" validate:"max=128"`
}

type updateUserRequest struct {
	FirstName *string `json:"first_name" validate:"omitnil,max=128"`
	LastName  *string `json:"last_name" validate:"omitnil,max=128"`
}

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// check returns the message for the first failing field, in declaration
// order.
func (rv *requestValidator) check(payload any) error {
	err := rv.v.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s missing", fe.Field())
	case "max":
		return fmt.Errorf("%s too long", fe.Field())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

// decodeJSON reads a single JSON object. It reports false for a body that
// is not JSON or is the literal null.
func decodeJSON[T any](r *http.Request) (*T, bool) {
	var dst *T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&dst); err != nil || dst == nil {
		return nil, false
	}
	return dst, true
}

// formCredentials pulls email and password from a form body or query
// string. The returned message names the first missing field.
func formCredentials(r *http.Request) (email, password, missing string) {
	email = r.FormValue("email")
	password = r.FormValue("password")
	switch {
	case email == "":
		return "", "", "email missing"
	case password == "":
		return "", "", "password missing"
	}
	return email, password, ""
}

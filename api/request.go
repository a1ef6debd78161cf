package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/accounts/apperr"
	"github.com/jacentio/accounts/users"
)

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message,omitempty"`
}

// profileInput mirrors users.Patch for validation. Nil means absent or null.
type profileInput struct {
	FirstName *string `json:"firstName" validate:"omitnil,personname"`
	LastName  *string `json:"lastName" validate:"omitnil,personname"`
	Phone     *string `json:"phone" validate:"omitnil,phone"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "personname", func(fl validator.FieldLevel) bool {
		return users.ValidName(fl.Field().String())
	})
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return users.ValidPhone(fl.Field().String())
	})
	return v
}

// mustRegister panics if tag cannot be registered.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// decodePatch strictly decodes and validates a profile update body.
func (h *Handler) decodePatch(body string) (users.Patch, error) {
	var patch users.Patch
	if strings.TrimSpace(body) == "" {
		return patch, apperr.BadRequest("Request body is required", nil)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return patch, apperr.BadRequest("Invalid request body", decodeDetails(err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return patch, apperr.BadRequest("Invalid request body", map[string]string{"json": "trailing_data"})
	}

	var fields []FieldError
	for name, f := range map[string]users.Field[string]{"firstName": patch.FirstName, "lastName": patch.LastName} {
		if f.IsNull() {
			fields = append(fields, FieldError{Field: name, Rule: "required", Message: "must not be null"})
		}
	}

	input := profileInput{
		FirstName: valueOrNil(patch.FirstName),
		LastName:  valueOrNil(patch.LastName),
		Phone:     valueOrNil(patch.Phone),
	}
	var verrs validator.ValidationErrors
	if err := h.validate.Struct(input); errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Message: validationMessage(fe.Tag())})
		}
	} else if err != nil {
		return patch, apperr.Internal(err)
	}

	if len(fields) > 0 {
		sortFieldErrors(fields)
		return patch, apperr.BadRequest("Invalid request body", map[string]any{"fields": fields})
	}
	if patch.Empty() {
		return patch, apperr.BadRequest("No fields to update", nil)
	}
	return patch, nil
}

func valueOrNil(f users.Field[string]) *string {
	if v, ok := f.Get(); ok {
		return &v
	}
	return nil
}

func decodeDetails(err error) any {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return map[string]string{"json": "invalid_json_syntax"}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return map[string]any{
			"json": "invalid_json_type",
			"fields": []FieldError{{
				Field:   typeErr.Field,
				Rule:    "type",
				Message: fmt.Sprintf("must be of type %s", typeErr.Type.String()),
			}},
		}
	}
	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return map[string]any{
			"json": "unknown_field",
			"fields": []FieldError{{
				Field:   strings.Trim(name, `"`),
				Rule:    "unknown",
				Message: "is not allowed",
			}},
		}
	}
	return map[string]string{"json": "invalid_json"}
}

func validationMessage(rule string) string {
	switch rule {
	case "personname":
		return "must be 1-100 letters, spaces, apostrophes or hyphens"
	case "phone":
		return "must be in E.164 format"
	default:
		return "failed " + rule + " validation"
	}
}

func sortFieldErrors(fields []FieldError) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
}

// ifMatchVersion parses an If-Match header carrying a version ETag.
func ifMatchVersion(headers map[string]string) (int64, bool, error) {
	var raw string
	for k, v := range headers {
		if strings.EqualFold(k, "If-Match") {
			raw = v
			break
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return 0, false, nil
	}

	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 0, false, apperr.BadRequest("Invalid If-Match header", map[string]string{"If-Match": raw})
	}
	return v, true, nil
}

// expectedVersion prefers the client's If-Match version over the stored one.
func expectedVersion(headers map[string]string, stored int64) (int64, error) {
	v, ok, err := ifMatchVersion(headers)
	if err != nil {
		return 0, err
	}
	if !ok {
		return stored, nil
	}
	return v, nil
}

// etag renders a version as a strong entity tag.
func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

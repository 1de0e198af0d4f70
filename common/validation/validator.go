package validation

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	apperrors "orders-service/common/errors"

	"github.com/go-playground/validator/v10"
)

var productIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RequestValidator validates inbound DTOs and events.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report fields by their wire names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("productid", func(fl validator.FieldLevel) bool {
		return productIDPattern.MatchString(fl.Field().String())
	})

	return &RequestValidator{validate: v}
}

// Struct validates s and returns a VALIDATION error with one entry per failing field.
func (rv *RequestValidator) Struct(s interface{}) error {
	err := rv.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return apperrors.Validation("Validation failed", map[string]string{"payload": err.Error()})
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fieldPath(fe)] = describe(fe)
	}
	return apperrors.Validation("Validation failed", details)
}

// Var validates a single value against tag.
func (rv *RequestValidator) Var(field string, value interface{}, tag string) error {
	if err := rv.validate.Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return apperrors.Validation("Validation failed", map[string]string{field: describe(verrs[0])})
		}
		return apperrors.Validation("Validation failed", map[string]string{field: err.Error()})
	}
	return nil
}

// Decode strictly unmarshals data into out and validates the result.
// Unknown fields are rejected.
func (rv *RequestValidator) Decode(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperrors.Validation("Invalid payload", map[string]string{"payload": err.Error()})
	}
	// scalars carry no struct tags; callers check them with Var
	if v := reflect.ValueOf(out); v.Kind() == reflect.Ptr && v.Elem().Kind() != reflect.Struct {
		return nil
	}
	return rv.Struct(out)
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid", "uuid4":
		return "must be a UUID"
	case "oneof":
		return fmt.Sprintf("must be a valid enum value: %s", strings.ReplaceAll(fe.Param(), " ", ","))
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "productid":
		return "must contain only letters, digits, '-' or '_'"
	case "url":
		return "must be a URL"
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

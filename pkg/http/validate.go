package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their wire name (json, query or path param)
// so error details match what the client sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// units qualifies numeric bounds of the forecast parameters.
var units = map[string]string{
	"lookback": "bars",
	"pred_len": "trading days",
	"limit":    "rows",
}

// ReadAndValidateRequest binds the request into req, applies `default` tags
// and validates it. It returns nil or a []ValidationError ready for the
// response envelope.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return bindFailure(err)
	}
	if err := defaults.Set(req); err != nil {
		return bindFailure(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		var fes validator.ValidationErrors
		if !errors.As(err, &fes) {
			return bindFailure(err)
		}
		out := make([]ValidationError, 0, len(fes))
		for _, fe := range fes {
			out = append(out, fieldFailure(fe))
		}
		return out
	}
	return nil
}

func bindFailure(err error) []ValidationError {
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
}

func fieldFailure(fe validator.FieldError) ValidationError {
	ve := ValidationError{
		Code:    "ERR_" + strings.ToUpper(fe.Tag()),
		Field:   fe.Field(),
		Message: describe(fe),
	}
	switch fe.Tag() {
	case "min", "gte":
		ve.Params = map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		ve.Params = map[string]interface{}{"max": fe.Param()}
	case "gt", "lt":
		ve.Params = map[string]interface{}{"value": fe.Param()}
	case "oneof":
		ve.Params = map[string]interface{}{"options": strings.Fields(fe.Param())}
	}
	return ve
}

func describe(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	bound := param
	if u, ok := units[field]; ok {
		bound = param + " " + u
	} else if fe.Kind() == reflect.String {
		bound = param + " characters"
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "uuid", "uuid4":
		return field + " must be a prediction record id (UUID)"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(strings.Fields(param), ", "))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, bound)
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, bound)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, bound)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, bound)
	}
	return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
}

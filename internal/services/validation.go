package services

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

var validationMessages = map[string]string{
	"required": "the field '%s' is required",
	"min":      "the field '%s' must contain at least %s item(s)",
	"max":      "the field '%s' must be no longer than %s",
	"gte":      "the field '%s' must be greater than or equal to %s",
	"oneof":    "the field '%s' must be one of [%s]",
	"unique":   "the field '%s' must not contain duplicates",
}

// validateStruct runs the struct tags of s and folds every violation into a
// single ErrValidation.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		msgs = append(msgs, fieldMessage(e))
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(e validator.FieldError) string {
	name := e.Field()
	if ns := e.Namespace(); strings.Contains(ns, ".") {
		name = ns[strings.Index(ns, ".")+1:]
	}
	msg, ok := validationMessages[e.Tag()]
	if !ok {
		return fmt.Sprintf("the field '%s' is invalid: %s", name, e.Tag())
	}
	if strings.Count(msg, "%s") == 2 {
		return fmt.Sprintf(msg, name, e.Param())
	}
	return fmt.Sprintf(msg, name)
}

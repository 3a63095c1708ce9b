package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance returns the shared validator. Besides the builtin tags it
// knows dgt, dgte and dlte, which compare decimal.Decimal fields against the
// tag parameter without going through float64.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		mustRegister(v, "dgt", func(d, p decimal.Decimal) bool { return d.GreaterThan(p) })
		mustRegister(v, "dgte", func(d, p decimal.Decimal) bool { return d.GreaterThanOrEqual(p) })
		mustRegister(v, "dlte", func(d, p decimal.Decimal) bool { return d.LessThanOrEqual(p) })
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, cmp func(d, param decimal.Decimal) bool) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		p, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return cmp(d, p)
	})
	if err != nil {
		panic(err)
	}
}

// validateStruct runs the struct tags of in and converts failures into a
// ValidationError keyed by JSON field path (e.g. "items[0].quantity").
func validateStruct(in any) *ValidationError {
	err := validatorInstance().Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid("input", err.Error())
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Add(fieldPath(fe.Namespace()), fieldMessage(fe))
	}
	return ve
}

// fieldPath strips the struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("needs at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must not be longer than %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "dgt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "dgte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "dlte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "hexcolor":
		return "must be a hex color like #1a2b3c"
	}
	return "is invalid (" + fe.Tag() + ")"
}

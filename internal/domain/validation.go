package domain

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// NewValidator returns a validator that understands decimal.Decimal fields and
// reports json field names. decimal_gt0 passes only for strictly positive amounts.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
		switch d := fl.Field().Interface().(type) {
		case decimal.Decimal:
			return d.IsPositive()
		case *decimal.Decimal:
			return d != nil && d.IsPositive()
		}
		return false
	})
	return v
}

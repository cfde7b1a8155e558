package reports

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// newValidator registers the portal's custom rules and reports fields by
// their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("thphone", func(fl validator.FieldLevel) bool {
		_, ok := NormalizePhone(fl.Field().String())
		return ok
	})
	return v
}

// validateStruct converts validator failures into a *ValidationError.
func validateStruct(v *validator.Validate, s any) *ValidationError {
	err := v.Struct(s)
	if err == nil {
		return &ValidationError{}
	}
	out := &ValidationError{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out.add("", "invalid", "")
		return out
	}
	for _, fe := range verrs {
		out.add(jsonPath(fe), fe.Tag(), fe.Param())
	}
	return out
}

// jsonPath strips the struct name from the namespace: "SubmitInput.images[0]" -> "images[0]".
func jsonPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// parseCost accepts a non-negative decimal. Empty input is reported as required.
func parseCost(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, invalidField(field, "required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalidField(field, "numeric")
	}
	if d.IsNegative() {
		return decimal.Zero, invalidField(field, "gte")
	}
	if d.Exponent() < -2 {
		return decimal.Zero, &ValidationError{Fields: []FieldError{{Field: field, Rule: "decimal", Param: "2"}}}
	}
	return d, nil
}

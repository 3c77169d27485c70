package services

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/allocation"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance returns the shared validator with the statement rules registered
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("allocation_key", func(fl validator.FieldLevel) bool {
			return allocation.AllocationKey(fl.Field().String()).IsValid()
		})
		// amounts are validated as numbers
		validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		// money columns keep cents only; more digits would be rounded silently
		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			in := sl.Current().Interface().(CostItemInput)
			if !in.Amount.Equal(in.Amount.Round(2)) {
				sl.ReportError(in.Amount, "amount", "Amount", "cents", "")
			}
		}, CostItemInput{})
	})
	return validate
}

// validateStruct runs the validator and converts its errors into a ValidationError
func validateStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "allocation_key":
		keys := make([]string, 0, 4)
		for _, k := range allocation.AllKeys() {
			keys = append(keys, k.String())
		}
		return "must be one of " + strings.Join(keys, ", ")
	case "cents":
		return "must have at most 2 decimal places"
	case "lte":
		return "must be at most " + fe.Param()
	case "gte":
		if fe.Param() == "0" {
			return "must not be negative"
		}
		return "must be at least " + fe.Param()
	case "gtefield":
		return "must not be before " + fe.Param()
	default:
		return "is invalid"
	}
}

package validation

import (
	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/api/resource"
)

// NewValidator builds the validator instance shared across the service and
// registers the custom validations the api structs use.
func NewValidator() (*validator.Validate, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("quantity", validateQuantity); err != nil {
		return nil, err
	}
	return validate, nil
}

// validateQuantity accepts Kubernetes resource-quantity syntax ("500m", "2Gi"),
// which both executor backends understand.
func validateQuantity(fl validator.FieldLevel) bool {
	_, err := resource.ParseQuantity(fl.Field().String())
	return err == nil
}

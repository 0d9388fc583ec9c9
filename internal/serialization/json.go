package serialization

import (
	"encoding/json"

	validator "github.com/go-playground/validator/v10"
	"github.com/scorehub/scorehub/internal/invocation"
)

// Unmarshal decodes jsonBytes into v and validates the result with the shared
// validator. Field-level violations are logged on the invocation logger; the
// caller converts the returned error at its envelope boundary.
func Unmarshal(validate *validator.Validate, ic *invocation.Context, jsonBytes []byte, v any) error {
	err := json.Unmarshal(jsonBytes, v)
	if err != nil {
		return err
	}
	// now validate the unmarshalled data
	err = validate.StructCtx(ic.Ctx, v)
	if err != nil {
		validationErrors := err.(validator.ValidationErrors)
		for _, validationError := range validationErrors {
			ic.Logger.Info("Validation error", "field", validationError.Field(), "tag", validationError.Tag(), "value", validationError.Value())
		}
		return err
	}
	// if the validation is successful, return nil
	return nil
}

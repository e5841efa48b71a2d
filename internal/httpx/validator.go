package httpx

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func init() {
	validate = validator.New()

	validate.RegisterValidation("username", validateUsername)
	validate.RegisterValidation("notblank", validateNotBlank)
}

func validateUsername(fl validator.FieldLevel) bool {
	return usernamePattern.MatchString(fl.Field().String())
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func ValidateStruct(s interface{}) []ErrorDetail {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ErrorDetail{{Field: "", Message: err.Error()}}
	}

	var errors []ErrorDetail
	for _, err := range verrs {
		field := err.Field()
		tag := err.Tag()
		param := err.Param()

		var message string
		switch tag {
		case "required", "notblank":
			message = fmt.Sprintf("%s is required", field)
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters", field, param)
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", field, param)
		case "username":
			message = fmt.Sprintf("%s may only contain letters, digits, '.', '_' and '-'", field)
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", field, param)
		case "gte":
			message = fmt.Sprintf("%s must be at least %s", field, param)
		default:
			message = fmt.Sprintf("%s is invalid", field)
		}

		fieldName := strings.ToLower(field[:1]) + field[1:]
		errors = append(errors, ErrorDetail{
			Field:   fieldName,
			Message: message,
		})
	}

	return errors
}

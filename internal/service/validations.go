package service

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

// Package for custom validations
var (
	validate *validator.Validate
	once     sync.Once
)

func InitValidator() {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("pool_category", func(fl validator.FieldLevel) bool {
			return entity.Category(fl.Field().String()).Valid()
		})
	})
}

// validationError keeps every field error and matches ErrValidation.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.New("validation unexpected error: " + err.Error())
	}
	joined := []error{errorvalues.ErrValidation}
	for _, fieldErr := range fieldErrs {
		joined = append(joined, fieldErr)
	}
	return errors.Join(joined...)
}

// evidenceLooksValid is the format check of auto-verified pools.
func evidenceLooksValid(ref string) bool {
	return validate.Var(ref, "required,uri,max=2048") == nil
}

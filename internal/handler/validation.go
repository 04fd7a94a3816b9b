package handler

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

// RegisterValidators adds the service's custom binding rules to gin's validator
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("hhmm", validateTimeOfDay)
}

// validateTimeOfDay accepts "HH:MM" and "HH:MM:SS"; an empty value clears a field
func validateTimeOfDay(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := domain.ParseTimeOfDay(s)
	return err == nil
}

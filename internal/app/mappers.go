package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"broker_reviews/internal/domain"
)

// newValidator reports fields by their JSON names so errors match the wire format.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// mapValidation turns the first validator failure into a domain.ValidationError.
func mapValidation(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return &domain.ValidationError{Field: "request", Reason: err.Error()}
	}
	fe := ves[0]
	return &domain.ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s%s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("must be at most %s%s", fe.Param(), unit)
	}
	return "failed " + fe.Tag()
}

// duplicateFlag marks the review a submission was found to copy; the id itself lives on the review.
func duplicateFlag(distance int) domain.FilterFlag {
	return domain.FilterFlag{Kind: domain.FlagDuplicate, Count: 1, Weight: distance}
}

// persistence wraps store failures so transport maps them to "try again".
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	var conflict *domain.ModerationConflictError
	var invalid *domain.ValidationError
	if errors.As(err, &conflict) || errors.As(err, &invalid) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistence, err)
}

func ptr[T any](v T) *T { return &v }

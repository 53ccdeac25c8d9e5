package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dcache/gplazma/pkg/gplazma/pipeline"
)

var validate = newValidator()

// newValidator reports fields by their configuration key.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the struct tags and the values tags cannot express.
// Every violation is reported, not just the first.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	switch cfg.Login.OptionalOnly {
	case pipeline.RequireSuccess, pipeline.AlwaysSucceed:
	default:
		errs = append(errs, fmt.Errorf("login.optional_only: unknown policy %s", cfg.Login.OptionalOnly))
	}

	return errors.Join(errs...)
}

// fieldError renders "logging.level: failed 'oneof' (DEBUG INFO ...)".
func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	msg := fmt.Sprintf("%s: failed '%s'", path, fe.Tag())
	if fe.Param() != "" {
		msg += fmt.Sprintf(" (%s)", fe.Param())
	}
	return errors.New(msg)
}

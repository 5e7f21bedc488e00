package common

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/cutout/internal/core"
)

// GenericEchoValidator implements echo.Validator. Field names in errors are
// the json names of the request body.
type GenericEchoValidator struct {
	Validator *validator.Validate
	once      sync.Once
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	gv.once.Do(func() {
		if gv.Validator == nil {
			gv.Validator = validator.New()
		}
		gv.Validator.RegisterTagNameFunc(jsonFieldName)
	})

	err := gv.Validator.Struct(i)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		if first.Tag() == "required" {
			return core.NewBadRequestError(fmt.Sprintf("Missing %s in request", first.Field()), nil)
		}
		return core.NewBadRequestError(fmt.Sprintf("Invalid %s in request", first.Field()), err)
	}
	return core.NewBadRequestError("Invalid request body", err)
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}

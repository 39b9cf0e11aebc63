// Package validation registers the request-binding rules used by the API
// handlers and turns validator errors into client-facing messages. Binding
// rules reject malformed input before it reaches a domain service; the
// services still enforce every constraint on their own.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/PoyrazK/Mini-AWS/internal/cidr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

var registerOnce sync.Once

// RegisterWithGin installs the custom rules on gin's default validator. It is
// idempotent.
func RegisterWithGin() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding validator is not go-playground/validator")
	}
	var err error
	registerOnce.Do(func() { err = Register(v) })
	return err
}

// Register installs the custom rules on v:
//
//	cidrv4  canonical IPv4 CIDR (host bits zero)
//	ports   "host:container[/proto],..." port mapping list
//	resid   resource id with the given prefix, e.g. resid=vpc
//
// Field names in errors come from the json tag.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	rules := map[string]validator.Func{
		"cidrv4": func(fl validator.FieldLevel) bool {
			_, err := cidr.Parse(fl.Field().String())
			return err == nil
		},
		"ports": func(fl validator.FieldLevel) bool {
			_, err := models.ParsePortMappings(fl.Field().String())
			return err == nil
		},
		"resid": func(fl validator.FieldLevel) bool {
			return ValidResourceID(fl.Param(), fl.Field().String())
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

// ValidResourceID reports whether id looks like prefix-<hex>.
func ValidResourceID(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok || rest == "" || len(rest) > 64 {
		return false
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Message renders a binding error for the client. Validator errors name the
// first failing field; anything else (malformed JSON) gets a generic message.
func Message(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "cidrv4":
		return fmt.Sprintf("%s must be an IPv4 CIDR block such as 10.0.0.0/16, got %q", field, fe.Value())
	case "ports":
		return fmt.Sprintf("%s must be a comma-separated list of host:container port mappings", field)
	case "resid":
		return fmt.Sprintf("%s must be a %s id", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

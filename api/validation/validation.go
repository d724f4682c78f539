// Package validation provides validation functionality for struct tag
// fields such as "binding", used in Gin/Validator.
package validation

import (
	"reflect"

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v8"

	"github.com/volta-protocol/voltgate/atomiq"
)

const starknetaddress = "starknetaddress"

// isValidStarknetAddress checks that the field parses as a Starknet
// field element.
func isValidStarknetAddress(
	_ *validator.Validate, _ reflect.Value, _ reflect.Value,
	field reflect.Value, _ reflect.Type, _ reflect.Kind, _ string) bool {
	return atomiq.ValidateStarknetAddress(field.String()) == nil
}

// registerValidator registers a validator in our validation engine with the
// given name.
func registerValidator(engine *validator.Validate, name string, function validator.Func) error {
	err := engine.RegisterValidation(name, function)
	if err != nil {
		return errors.Wrapf(err, "could not register %q validation", name)
	}
	return nil
}

// RegisterAllValidators registers all known validators to the Validator
// engine, quitting if this results in an error. This function should
// typically be called at startup.
func RegisterAllValidators(engine *validator.Validate) []string {
	type Validator struct {
		Name     string
		Function validator.Func
	}
	validators := []Validator{
		{
			Name:     starknetaddress,
			Function: isValidStarknetAddress,
		},
	}

	var names []string
	for _, elem := range validators {
		if err := registerValidator(engine, elem.Name, elem.Function); err != nil {
			panic(err.Error())
		}
		names = append(names, elem.Name)
	}
	return names
}

package manifest

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/matt-riley/semflagz/internal/core"
)

// NamePattern is the pattern every feature name must match.
const NamePattern = `^[a-zA-Z][\w-]*$`

var (
	validate    *validator.Validate
	namePattern = regexp.MustCompile(NamePattern)
)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("featurename", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("semverrange", func(fl validator.FieldLevel) bool {
		_, err := core.ParseRange(fl.Field().String())
		return err == nil
	})
}

// ValidationError is one problem found in a manifest.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Message + " at " + e.Path
}

// ValidationErrors collects every problem found in a manifest.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return "feature manifest validation failed:\n" + strings.Join(messages, "\n")
}

// Validate checks names, ranges, timestamps and name uniqueness.
func Validate(m Manifest) error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    fieldPath(fe.Namespace()),
			Message: message(fe),
		})
	}
	return out
}

// fieldPath drops the root struct name: "Manifest.features[0].name" becomes
// "features.0.name".
func fieldPath(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		path = namespace
	}
	path = strings.ReplaceAll(path, "[", ".")
	return strings.ReplaceAll(path, "]", "")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "featurename":
		return fmt.Sprintf("name %q must match %s", fe.Value(), NamePattern)
	case "semverrange":
		return fmt.Sprintf("%q is not a valid version or range", fe.Value())
	case "datetime":
		return fmt.Sprintf("%q is not an RFC 3339 timestamp", fe.Value())
	case "unique":
		return "feature names must be unique"
	default:
		return fmt.Sprintf("validation failed (%s)", fe.Tag())
	}
}

package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Init configures the global validator used by Gin's binding.
// - Uses JSON tag names in errors.
// - Registers alias tags for common validations.
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		configure(v)
	}
}

// BcryptMaxBytes is the longest input bcrypt accepts.
const BcryptMaxBytes = 72

func configure(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonTagName)
	v.RegisterAlias("pwd", "min=8") // password minimum length
	v.RegisterAlias("nonzero", "required")
	_ = v.RegisterValidation("bcryptmax", bcryptMax)
}

// bcryptMax limits strings by byte length; max= counts runes.
func bcryptMax(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() != reflect.String {
		return false
	}
	return len(f.String()) <= BcryptMaxBytes
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// Validator returns the package validator used for `validate` struct tags.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		configure(validate)
	})
	return validate
}

// FieldError describes one violated constraint.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// ValidationError lists every violated constraint of one input.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Details returns the field->message map used in API error bodies.
func (e *ValidationError) Details() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := out[f.Field]; !ok {
			out[f.Field] = f.Message
		}
	}
	return out
}

// Has reports whether the given field failed the given tag.
func (e *ValidationError) Has(field, tag string) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Tag == tag {
			return true
		}
	}
	return false
}

// Struct validates s against its `validate` tags and returns a *ValidationError
// naming every failing field, or nil.
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, toFieldError(fe.Field(), fe))
	}
	return out
}

const PasswordTooLongMessage = "must be at most 72 bytes long"

// PasswordTooLong is the error reported for a password bcrypt cannot hash.
func PasswordTooLong(field string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{
		Field:   field,
		Tag:     "bcryptmax",
		Message: PasswordTooLongMessage,
	}}}
}

// Collector accumulates per-value checks for inputs whose fields are optional.
type Collector struct {
	fields []FieldError
}

// Check validates value against tag and records a failure under field.
func (c *Collector) Check(field string, value any, tag string) {
	err := Validator().Var(value, tag)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.fields = append(c.fields, FieldError{Field: field, Tag: tag, Message: err.Error()})
		return
	}
	for _, fe := range verrs {
		c.fields = append(c.fields, toFieldError(field, fe))
	}
}

// Err returns the collected *ValidationError, or nil when every check passed.
func (c *Collector) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.fields}
}

func toFieldError(field string, fe validator.FieldError) FieldError {
	return FieldError{
		Field:   field,
		Tag:     fe.Tag(),
		Param:   fe.Param(),
		Message: formatFieldError(fe),
	}
}

// ToDetails converts validation/binding errors into a map[field]message suitable for API error.details.
func ToDetails(err error) map[string]string {
	if err == nil {
		return nil
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Details()
	}

	// Invalid JSON payloads
	var se *json.SyntaxError
	var ute *json.UnmarshalTypeError
	if errors.As(err, &se) || errors.As(err, &ute) {
		return map[string]string{"payload": "invalid json"}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			out[fe.Field()] = formatFieldError(fe)
		}
		return out
	}

	return map[string]string{"payload": "invalid payload"}
}

func formatFieldError(fe validator.FieldError) string {
	tag := fe.Tag()
	param := fe.Param()

	switch tag {
	case "required", "nonzero":
		return "is required"
	case "email":
		return "must be a valid email"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "min":
		if param == "" {
			return "too small"
		}
		if isNumberKind(fe.Kind()) {
			return "must be at least " + param
		}
		return "must be at least " + param + " characters long"
	case "max":
		if param == "" {
			return "too large"
		}
		if isNumberKind(fe.Kind()) {
			return "must be at most " + param
		}
		return "must be at most " + param + " characters long"
	case "pwd":
		return "min length 8"
	case "bcryptmax":
		return PasswordTooLongMessage
	default:
		if param != "" {
			return fmt.Sprintf("validation failed for '%s' with parameter '%s'", tag, param)
		}
		return fmt.Sprintf("validation failed for '%s'", tag)
	}
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

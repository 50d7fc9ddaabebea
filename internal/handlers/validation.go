package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"taskhub/internal/authz"
	"taskhub/internal/models"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

	registerOnce sync.Once
	registerErr  error
)

// dateLayouts are accepted for dueDate: a plain date or a full timestamp.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// RegisterValidators installs the custom rules on gin's validator engine.
// Safe to call more than once.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("unexpected validator engine")
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "form", "uri"} {
				name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})

		rules := map[string]validator.Func{
			"username": func(fl validator.FieldLevel) bool {
				return usernamePattern.MatchString(fl.Field().String())
			},
			"taskstatus": func(fl validator.FieldLevel) bool {
				return models.TaskStatus(fl.Field().String()).Valid()
			},
			"taskpriority": func(fl validator.FieldLevel) bool {
				return models.TaskPriority(fl.Field().String()).Valid()
			},
			"role": func(fl validator.FieldLevel) bool {
				return authz.IsValidRole(fl.Field().String())
			},
			"isodate": func(fl validator.FieldLevel) bool {
				_, err := parseDate(fl.Field().String())
				return err == nil
			},
			"future": func(fl validator.FieldLevel) bool {
				t, err := parseDate(fl.Field().String())
				return err == nil && t.After(time.Now())
			},
		}
		for tag, fn := range rules {
			if err := v.RegisterValidation(tag, fn); err != nil {
				registerErr = fmt.Errorf("register %s: %w", tag, err)
				return
			}
		}
	})
	return registerErr
}

// normalizer is implemented by request bodies that trim or case-fold their
// fields before validation.
type normalizer interface {
	normalize()
}

// maxBodyBytes caps request bodies read by bindJSON.
const maxBodyBytes = 1 << 20

// bindJSON decodes the body into dst field by field, normalizes it and
// validates it. Type mismatches and rule violations are reported together,
// one entry per field, with a 400.
func bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		respondValidation(c, []FieldError{{Field: "body", Message: "Unable to read request body", Location: "body"}})
		return false
	}

	typeErrs, err := decodeFields(body, dst)
	if err != nil {
		respondValidation(c, []FieldError{{Field: "body", Message: "Invalid JSON payload", Location: "body"}})
		return false
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}

	errs := typeErrs
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		seen := make(map[string]bool, len(typeErrs))
		for _, fe := range typeErrs {
			seen[fe.Field] = true
		}
		for _, fe := range validationErrors(err, "body") {
			if !seen[fe.Field] {
				errs = append(errs, fe)
			}
		}
	}
	if len(errs) > 0 {
		respondValidation(c, errs)
		return false
	}
	return true
}

// decodeFields unmarshals each top-level member of the JSON object into the
// matching field of dst. A member of the wrong type leaves the field zero and
// yields a FieldError; only a malformed document returns an error.
func decodeFields(body []byte, dst any) ([]FieldError, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, err
	}

	v := reflect.ValueOf(dst).Elem()
	t := v.Type()
	var errs []FieldError
	for i := 0; i < t.NumField(); i++ {
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		raw, ok := lookupMember(members, name)
		if !ok {
			continue
		}
		field := v.Field(i)
		if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
			field.Set(reflect.Zero(field.Type()))
			errs = append(errs, FieldError{Field: name, Message: typeMessage(name, field.Type()), Location: "body"})
		}
	}
	return errs, nil
}

// lookupMember matches keys the way encoding/json does: exact first, then case-insensitively.
func lookupMember(members map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if raw, ok := members[name]; ok {
		return raw, true
	}
	for key, raw := range members {
		if strings.EqualFold(key, name) {
			return raw, true
		}
	}
	return nil, false
}

func typeMessage(name string, typ reflect.Type) string {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	switch typ.Kind() {
	case reflect.String:
		return name + " must be a string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return name + " must be an integer"
	case reflect.Bool:
		return name + " must be a boolean"
	}
	return fmt.Sprintf("%s must be a %s", name, typ.Kind())
}

// bindQuery binds and validates query parameters.
func bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		respondValidation(c, validationErrors(err, "query"))
		return false
	}
	return true
}

// pathID returns the :id parameter in canonical form when it is a well-formed id.
func pathID(c *gin.Context) (string, bool) {
	parsed, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, []FieldError{{Field: "id", Message: "Invalid id format", Location: "params"}})
		return "", false
	}
	return parsed.String(), true
}

// canonicalID rewrites a uuid to its lower-case hyphenated form. Anything
// else is returned unchanged and left for the validator to reject.
func canonicalID(raw string) string {
	if parsed, err := uuid.Parse(raw); err == nil {
		return parsed.String()
	}
	return raw
}

func validationErrors(err error, location string) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: location, Message: "Invalid " + location + " parameters", Location: location}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: fieldMessage(fe), Location: location})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "email":
		return "Please provide a valid email"
	case "username":
		return "Username can only contain letters, numbers and underscores"
	case "taskstatus":
		return "Status must be one of: pending, in-progress, completed"
	case "taskpriority":
		return "Priority must be one of: low, medium, high"
	case "role":
		return "Role must be either user or admin"
	case "isodate":
		return "Due date must be a valid ISO 8601 date"
	case "future":
		return "Due date must be in the future"
	case "uuid":
		return field + " must be a valid id"
	}
	return field + " is invalid"
}

package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Event is the tracking payload sent by the snippet. RemoteIP and
// RemoteUserAgent come from the HTTP request, not the body.
type Event struct {
	APIKey           string  `json:"apiKey" validate:"required,max=255"`
	URL              string  `json:"url" validate:"required,url,max=2048"`
	Title            string  `json:"title" validate:"max=500"`
	Referrer         string  `json:"referrer" validate:"omitempty,url,max=2048"`
	VisitorID        string  `json:"visitorId" validate:"required,max=255"`
	SessionID        string  `json:"sessionId" validate:"required,max=255"`
	UserAgent        string  `json:"userAgent" validate:"max=1024"`
	Language         string  `json:"language" validate:"max=10"`
	Timezone         string  `json:"timezone" validate:"max=50"`
	ScreenResolution string  `json:"screenResolution" validate:"max=50"`
	Duration         float64 `json:"duration" validate:"gte=0,lte=2147483647"`
	UTMSource        string  `json:"utmSource" validate:"max=255"`
	UTMMedium        string  `json:"utmMedium" validate:"max=255"`
	UTMCampaign      string  `json:"utmCampaign" validate:"max=255"`
	UTMTerm          string  `json:"utmTerm" validate:"max=255"`
	UTMContent       string  `json:"utmContent" validate:"max=255"`

	// Event and Properties carry custom events from the snippet's track().
	Event      string         `json:"event" validate:"max=255"`
	Properties map[string]any `json:"properties" validate:"max=50"`

	RemoteIP        string `json:"-"`
	RemoteUserAgent string `json:"-"`
}

// ValidationError lists what was wrong with a payload.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

var validate = newValidator()

// Validate checks v against its validate struct tags and returns a
// *ValidationError naming fields by their JSON names.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Details: []string{err.Error()}}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, describe(fe))
	}
	return &ValidationError{Details: details}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", fe.Field())
	case "url":
		return fmt.Sprintf("%q must be a valid URL", fe.Field())
	case "min":
		return fmt.Sprintf("%q must be at least %s long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%q must be at most %s long", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%q must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%q must be less than or equal to %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%q is invalid", fe.Field())
}

package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/escape-reception/internal/model"
)

// maxDisplayName caps the name a guest types at check-in.
const maxDisplayName = 32

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a validator with the reception specific tags
// registered: displayname and difficulty.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("displayname", func(fl validator.FieldLevel) bool {
		_, err := normalizeDisplayName(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("difficulty", func(fl validator.FieldLevel) bool {
		_, ok := model.ParseDifficulty(fl.Field().String())
		return ok
	})
	return &Validator{v: v}
}

// Validate implements echo.Validator.
func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

// fieldMessages maps field -> validation tag -> client message.
type fieldMessages map[string]map[string]string

// bindValid binds the request body and runs the echo validator.  On failure
// it writes a 400 and returns false.
func bindValid(c echo.Context, req any, messages fieldMessages, fallback string) bool {
	if err := c.Bind(req); err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		return false
	}
	if err := c.Validate(req); err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": resolveValidation(err, messages, fallback)})
		return false
	}
	return true
}

func resolveValidation(err error, messages fieldMessages, fallback string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, verr := range verrs {
			if msgs, ok := messages[verr.Field()]; ok {
				if msg, ok := msgs[verr.Tag()]; ok {
					return msg
				}
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "invalid request"
}

// normalizeDisplayName collapses whitespace and rejects control characters
// and names longer than maxDisplayName runes.  An empty name is allowed and
// means "keep the current one".
func normalizeDisplayName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if utf8.RuneCountInString(name) > maxDisplayName {
		return "", fmt.Errorf("name must be %d characters or fewer", maxDisplayName)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return "", errors.New("name contains unsupported characters")
		}
	}
	return name, nil
}

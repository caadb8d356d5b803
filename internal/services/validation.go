package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request field names, also used as ValidationError keys.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldPhone     = "phone"
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldEmails    = "emails"
)

// AddressList is the tri-state "emails" input: absent, present and empty, or
// present with values. Absent leaves a user's secondary addresses untouched on
// update; present (even empty) replaces them.
type AddressList struct {
	present  bool
	notArray bool
	values   []string
	invalid  map[int]bool
}

// Addresses returns a present list holding values. Addresses() is present and empty.
func Addresses(values ...string) AddressList {
	return AddressList{present: true, values: append([]string{}, values...)}
}

// Present reports whether the field was supplied.
func (l AddressList) Present() bool { return l.present }

// Values returns the submitted addresses in order.
func (l AddressList) Values() []string { return l.values }

// UnmarshalJSON keeps track of presence; null counts as absent. Shape problems
// are reported later as validation messages instead of decode failures.
func (l *AddressList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = AddressList{}
		return nil
	}

	*l = AddressList{present: true}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		l.notArray = true
		return nil
	}

	l.values = make([]string, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			if l.invalid == nil {
				l.invalid = map[int]bool{}
			}
			l.invalid[i] = true
			continue
		}
		l.values[i] = s
	}
	return nil
}

// CreateUserInput is the registration payload.
type CreateUserInput struct {
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Phone     string      `json:"phone"`
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	Emails    AddressList `json:"emails"`
}

// UpdateUserInput is a partial update; nil fields are left untouched.
// Password is deliberately absent: it cannot be changed on this path.
type UpdateUserInput struct {
	FirstName *string     `json:"first_name"`
	LastName  *string     `json:"last_name"`
	Phone     *string     `json:"phone"`
	Email     *string     `json:"email"`
	Emails    AddressList `json:"emails"`
}

type rule struct {
	tag     string
	message string
}

var (
	validate = validator.New()

	nameRules = []rule{
		{"required", "The %s field is required."},
		{"max=255", "The %s field must not be greater than 255 characters."},
	}
	phoneRules = []rule{
		{"required", "The %s field is required."},
		{"max=20", "The %s field must not be greater than 20 characters."},
	}
	emailRules = []rule{
		{"required", "The %s field is required."},
		{"email", "The %s field must be a valid email address."},
		{"max=255", "The %s field must not be greater than 255 characters."},
	}
	passwordRules = []rule{
		{"required", "The %s field is required."},
		{"min=6", "The %s field must be at least 6 characters."},
	}
)

// checkField applies rules in order and records the first failure. It reports
// whether value passed every rule.
func checkField(verr *ValidationError, field, value string, rules []rule) bool {
	for _, r := range rules {
		if err := validate.Var(value, r.tag); err != nil {
			verr.Add(field, fmt.Sprintf(r.message, label(field)))
			return false
		}
	}
	return true
}

// validateCreateFormat checks shape rules of a registration payload.
func validateCreateFormat(in CreateUserInput) *ValidationError {
	verr := NewValidationError()
	checkField(verr, FieldFirstName, in.FirstName, nameRules)
	checkField(verr, FieldLastName, in.LastName, nameRules)
	checkField(verr, FieldPhone, in.Phone, phoneRules)
	checkField(verr, FieldEmail, in.Email, emailRules)
	checkField(verr, FieldPassword, in.Password, passwordRules)
	validateAddressFormat(verr, in.Emails)
	return verr
}

// validateUpdateFormat checks shape rules of the supplied fields only.
func validateUpdateFormat(in UpdateUserInput) *ValidationError {
	verr := NewValidationError()
	if in.FirstName != nil {
		checkField(verr, FieldFirstName, *in.FirstName, nameRules)
	}
	if in.LastName != nil {
		checkField(verr, FieldLastName, *in.LastName, nameRules)
	}
	if in.Phone != nil {
		checkField(verr, FieldPhone, *in.Phone, phoneRules)
	}
	if in.Email != nil {
		checkField(verr, FieldEmail, *in.Email, emailRules)
	}
	validateAddressFormat(verr, in.Emails)
	return verr
}

func validateAddressFormat(verr *ValidationError, list AddressList) {
	if !list.present {
		return
	}
	if list.notArray {
		verr.Add(FieldEmails, "The emails field must be an array.")
		return
	}
	for i, address := range list.values {
		field := AddressField(i)
		if list.invalid[i] {
			verr.Add(field, fmt.Sprintf("The %s field must be a valid email address.", field))
			continue
		}
		checkField(verr, field, address, emailRules)
	}
}

// AddressField is the error key of the i-th submitted secondary address.
func AddressField(i int) string {
	return fmt.Sprintf("%s.%d", FieldEmails, i)
}

func label(field string) string {
	if strings.HasPrefix(field, FieldEmails+".") {
		return field
	}
	return strings.ReplaceAll(field, "_", " ")
}

func takenMessage(field string) string {
	return fmt.Sprintf("The %s has already been taken.", label(field))
}

func duplicateMessage(field string) string {
	return fmt.Sprintf("The %s field has a duplicate value.", label(field))
}

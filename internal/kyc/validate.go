// Package kyc validates identity and bank details before any network call.
package kyc

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"tuition-payflow/internal/domain"
)

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors aggregates field errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}

// Fields returns field → message.
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, v := range e {
		out[v.Field] = v.Message
	}
	return out
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e ValidationErrors) err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Rules are the per-country identity constraints.
type Rules struct {
	// NationalIDDigits is the exact digit count required, 0 for "present".
	NationalIDDigits int
	NationalIDName   string
}

// RulesFor returns rules for country.
func RulesFor(country string) Rules {
	if domain.IsBrazil(country) {
		return Rules{NationalIDDigits: 11, NationalIDName: "CPF"}
	}
	return Rules{NationalIDName: "national ID"}
}

const (
	minTaxDigits = 11
	maxTaxDigits = 18
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("mindigits", minDigits); err != nil {
		panic(err)
	}
	v.RegisterStructValidation(nationalIDRule, domain.Identity{})
	return v
}

// minDigits passes when the field holds at least param digits once separators are stripped.
func minDigits(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(Digits(fl.Field().String())) >= n
}

// nationalIDRule applies the country's exact digit count to a present national ID.
func nationalIDRule(sl validator.StructLevel) {
	id := sl.Current().Interface().(domain.Identity)
	rules := RulesFor(id.Country)
	if id.NationalID == "" || rules.NationalIDDigits == 0 {
		return
	}
	if len(Digits(id.NationalID)) != rules.NationalIDDigits {
		sl.ReportError(id.NationalID, "national_id", "NationalID", "digits", strconv.Itoa(rules.NationalIDDigits))
	}
}

// Digits strips every non-digit rune.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeIdentity trims fields and reduces a Brazilian national ID to its digits.
func NormalizeIdentity(id domain.Identity) domain.Identity {
	id.FirstName = strings.TrimSpace(id.FirstName)
	id.LastName = strings.TrimSpace(id.LastName)
	id.Email = strings.TrimSpace(id.Email)
	id.Country = strings.TrimSpace(id.Country)
	id.NationalID = strings.TrimSpace(id.NationalID)
	if domain.IsBrazil(id.Country) {
		id.NationalID = Digits(id.NationalID)
	}
	id.Address.Line1 = strings.TrimSpace(id.Address.Line1)
	id.Address.City = strings.TrimSpace(id.Address.City)
	id.Address.State = strings.TrimSpace(id.Address.State)
	id.Address.PostalCode = strings.TrimSpace(id.Address.PostalCode)
	return id
}

var labels = map[string]string{
	"first_name":               "first name",
	"last_name":                "last name",
	"email":                    "email address",
	"phone":                    "phone number",
	"birth_day":                "day",
	"birth_month":              "month",
	"birth_year":               "year",
	"address.line1":            "street address",
	"address.city":             "city",
	"address.state":            "state",
	"address.postal_code":      "postal code",
	"bank.routing_number":      "routing number",
	"bank.account_number":      "account number",
	"bank.account_holder_name": "account holder name",
}

func label(field string) string {
	if l, ok := labels[field]; ok {
		return l
	}
	return strings.ReplaceAll(field, "_", " ")
}

// fieldErrors maps validator output onto ValidationErrors keyed by JSON path. prefix
// replaces the top-level struct name.
func fieldErrors(err error, prefix string, rules Rules) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var out ValidationErrors
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if prefix != "" {
			field = prefix + "." + field
		}
		name := label(field)
		if field == "national_id" {
			name = rules.NationalIDName
		}

		switch fe.Tag() {
		case "required":
			out.add(field, "%s is required", name)
		case "contains":
			out.add(field, "a valid %s is required", name)
		case "mindigits":
			out.add(field, "%s must have at least %s digits", name, fe.Param())
		case "digits":
			out.add(field, "%s must have exactly %s digits", name, fe.Param())
		case "min", "max":
			lo, hi := bounds(fe)
			out.add(field, "%s must be between %s and %s", name, lo, hi)
		default:
			out.add(field, "%s is invalid", name)
		}
	}
	return out.err()
}

// bounds reads the min and max params from the failing Identity field's tag.
func bounds(fe validator.FieldError) (lo, hi string) {
	f, _ := reflect.TypeOf(domain.Identity{}).FieldByName(fe.StructField())
	for _, part := range strings.Split(f.Tag.Get("validate"), ",") {
		if v, ok := strings.CutPrefix(part, "min="); ok {
			lo = v
		}
		if v, ok := strings.CutPrefix(part, "max="); ok {
			hi = v
		}
	}
	return lo, hi
}

// ValidateIdentity checks step 1 data. The identity should be normalised first.
func ValidateIdentity(id domain.Identity) error {
	return fieldErrors(validate.Struct(id), "", RulesFor(id.Country))
}

// ValidateDelivery checks step 2 data.
func ValidateDelivery(d domain.Delivery) error {
	switch d.Method {
	case domain.DeliveryBankTransfer:
		bank := d.Bank
		bank.RoutingNumber = strings.TrimSpace(bank.RoutingNumber)
		bank.AccountNumber = strings.TrimSpace(bank.AccountNumber)
		bank.AccountHolderName = strings.TrimSpace(bank.AccountHolderName)
		return fieldErrors(validate.Struct(bank), "bank", Rules{})
	case domain.DeliveryCheckToSchool:
		return nil
	default:
		var errs ValidationErrors
		errs.add("method", "select a delivery method")
		return errs.err()
	}
}

// ValidateSender checks the PIX sender identity and returns the normalised tax id.
func ValidateSender(name, taxID string) (string, error) {
	var errs ValidationErrors
	if validate.Var(strings.TrimSpace(name), "required") != nil {
		errs.add("sender_name", "sender name is required")
	}
	digits := Digits(taxID)
	switch {
	case validate.Var(strings.TrimSpace(taxID), "required") != nil:
		errs.add("sender_tax_id", "sender tax id is required")
	case validate.Var(digits, fmt.Sprintf("min=%d,max=%d", minTaxDigits, maxTaxDigits)) != nil:
		errs.add("sender_tax_id", "tax id must have between %d and %d digits, got %d", minTaxDigits, maxTaxDigits, len(digits))
	}
	return digits, errs.err()
}

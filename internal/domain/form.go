package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step is a wizard step. Progress is linear; any earlier step may be revisited.
type Step int

const (
	StepIdentity Step = iota + 1
	StepDeliveryMethod
	StepAmount
	StepAuthorization
	StepSettlement
)

func (s Step) String() string {
	switch s {
	case StepIdentity:
		return "identity"
	case StepDeliveryMethod:
		return "delivery_method"
	case StepAmount:
		return "amount"
	case StepAuthorization:
		return "authorization"
	case StepSettlement:
		return "settlement"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Valid reports whether s is one of the five wizard steps.
func (s Step) Valid() bool {
	return s >= StepIdentity && s <= StepSettlement
}

// DeliveryMethod is how funds reach the school.
type DeliveryMethod int

const (
	DeliveryUnset DeliveryMethod = iota
	DeliveryBankTransfer
	DeliveryCheckToSchool
)

func (d DeliveryMethod) String() string {
	switch d {
	case DeliveryBankTransfer:
		return "bank_transfer"
	case DeliveryCheckToSchool:
		return "check_to_school"
	default:
		return ""
	}
}

// ParseDeliveryMethod maps the wire name to a DeliveryMethod.
func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bank_transfer", "wire", "ach":
		return DeliveryBankTransfer, nil
	case "check_to_school", "check":
		return DeliveryCheckToSchool, nil
	case "":
		return DeliveryUnset, nil
	default:
		return DeliveryUnset, fmt.Errorf("unknown delivery method %q", s)
	}
}

func (d DeliveryMethod) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DeliveryMethod) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDeliveryMethod(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Country codes with dedicated rules.
const (
	CountryBrazil = "BR"
)

// IsBrazil accepts the ISO code or the display name.
func IsBrazil(country string) bool {
	c := strings.TrimSpace(country)
	return strings.EqualFold(c, CountryBrazil) || strings.EqualFold(c, "brazil") || strings.EqualFold(c, "brasil")
}

// Address is a postal address.
type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country"`
}

// Identity is the KYC data collected on step 1. The national ID digit count is a
// per-country rule checked by the kyc package.
type Identity struct {
	FirstName  string  `json:"first_name" validate:"required"`
	LastName   string  `json:"last_name" validate:"required"`
	Email      string  `json:"email" validate:"required,contains=@,contains=."`
	Phone      string  `json:"phone" validate:"mindigits=10"`
	Country    string  `json:"country" validate:"required"`
	NationalID string  `json:"national_id" validate:"required"`
	BirthDay   int     `json:"birth_day" validate:"min=1,max=31"`
	BirthMonth int     `json:"birth_month" validate:"min=1,max=12"`
	BirthYear  int     `json:"birth_year" validate:"min=1900,max=2025"`
	Address    Address `json:"address"`
}

// FullName joins first and last name.
func (i Identity) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
}

// BirthDate renders the birth date as YYYY-MM-DD.
func (i Identity) BirthDate() string {
	return fmt.Sprintf("%04d-%02d-%02d", i.BirthYear, i.BirthMonth, i.BirthDay)
}

// BankAccount is required when delivering by bank transfer.
type BankAccount struct {
	RoutingNumber     string `json:"routing_number" validate:"required"`
	AccountNumber     string `json:"account_number" validate:"required"`
	AccountHolderName string `json:"account_holder_name" validate:"required"`
	BankName          string `json:"bank_name,omitempty"`
}

// Delivery is the step 2 selection.
type Delivery struct {
	Method      DeliveryMethod `json:"method"`
	Bank        BankAccount    `json:"bank"`
	SchoolName  string         `json:"school_name,omitempty"`
	StudentID   string         `json:"student_id,omitempty"`
	SchoolEmail string         `json:"school_email,omitempty"`
}

// FormData is everything the user typed across the wizard.
type FormData struct {
	Identity          Identity `json:"identity"`
	Delivery          Delivery `json:"delivery"`
	AmountInput       string   `json:"amount_input,omitempty"`
	ExternalAccountID string   `json:"external_account_id,omitempty"`
}

package kyc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuition-payflow/internal/domain"
)

func validIdentity() domain.Identity {
	return domain.Identity{
		FirstName:  "Ana",
		LastName:   "Silva",
		Email:      "ana@example.com",
		Phone:      "+55 (11) 98765-4321",
		Country:    "BR",
		NationalID: "123.456.789-00",
		BirthDay:   14,
		BirthMonth: 7,
		BirthYear:  1999,
		Address: domain.Address{
			Line1: "Rua A, 10", City: "São Paulo", State: "SP", PostalCode: "01000-000", Country: "BR",
		},
	}
}

func TestNormalizeCPF(t *testing.T) {
	id := NormalizeIdentity(validIdentity())
	assert.Equal(t, "12345678900", id.NationalID)
	require.NoError(t, ValidateIdentity(id))
}

func TestShortCPFRejected(t *testing.T) {
	id := validIdentity()
	id.NationalID = "123.456.789"
	err := ValidateIdentity(NormalizeIdentity(id))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Fields(), "national_id")
}

func TestNonBrazilOnlyRequiresPresence(t *testing.T) {
	id := validIdentity()
	id.Country = "US"
	id.NationalID = "A12"
	require.NoError(t, ValidateIdentity(NormalizeIdentity(id)))
	assert.Equal(t, "A12", NormalizeIdentity(id).NationalID)
}

func TestIdentityFieldRules(t *testing.T) {
	cases := map[string]func(*domain.Identity){
		"first_name":          func(i *domain.Identity) { i.FirstName = " " },
		"phone":               func(i *domain.Identity) { i.Phone = "12345" },
		"email":               func(i *domain.Identity) { i.Email = "ana.example.com" },
		"birth_day":           func(i *domain.Identity) { i.BirthDay = 32 },
		"birth_month":         func(i *domain.Identity) { i.BirthMonth = 0 },
		"birth_year":          func(i *domain.Identity) { i.BirthYear = 2030 },
		"address.postal_code": func(i *domain.Identity) { i.Address.PostalCode = "" },
		"country":             func(i *domain.Identity) { i.Country = "" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			id := validIdentity()
			mutate(&id)
			err := ValidateIdentity(NormalizeIdentity(id))
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Contains(t, verrs.Fields(), field)
		})
	}
}

func TestValidateDelivery(t *testing.T) {
	require.Error(t, ValidateDelivery(domain.Delivery{}))
	require.NoError(t, ValidateDelivery(domain.Delivery{Method: domain.DeliveryCheckToSchool}))

	err := ValidateDelivery(domain.Delivery{Method: domain.DeliveryBankTransfer, Bank: domain.BankAccount{RoutingNumber: "021000021"}})
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)

	require.NoError(t, ValidateDelivery(domain.Delivery{
		Method: domain.DeliveryBankTransfer,
		Bank:   domain.BankAccount{RoutingNumber: "021000021", AccountNumber: "12345", AccountHolderName: "School"},
	}))
}

func TestValidateSender(t *testing.T) {
	digits, err := ValidateSender("Ana Silva", "123.456.789-00")
	require.NoError(t, err)
	assert.Equal(t, "12345678900", digits)

	_, err = ValidateSender("Ana Silva", "12.345.678/0001-95")
	require.NoError(t, err, "CNPJ has 14 digits")

	_, err = ValidateSender("Ana Silva", "1234567890")
	require.Error(t, err)

	_, err = ValidateSender("", "12345678900")
	require.Error(t, err)

	_, err = ValidateSender("Ana", "1234567890123456789")
	require.Error(t, err)
}

func TestEmailNeedsAtAndDot(t *testing.T) {
	id := validIdentity()
	id.Email = "first.last@localhost"
	require.NoError(t, ValidateIdentity(NormalizeIdentity(id)))

	id.Email = "ana@localhost"
	var verrs ValidationErrors
	require.ErrorAs(t, ValidateIdentity(NormalizeIdentity(id)), &verrs)
	assert.Equal(t, "a valid email address is required", verrs.Fields()["email"])
}

func TestValidationMessages(t *testing.T) {
	id := validIdentity()
	id.NationalID = "123"
	id.BirthDay = 0
	id.BirthYear = 1800
	id.Phone = "555-1234"
	id.Address.Line1 = "   "

	var verrs ValidationErrors
	require.ErrorAs(t, ValidateIdentity(NormalizeIdentity(id)), &verrs)
	fields := verrs.Fields()
	assert.Equal(t, "CPF must have exactly 11 digits", fields["national_id"])
	assert.Equal(t, "day must be between 1 and 31", fields["birth_day"])
	assert.Equal(t, "year must be between 1900 and 2025", fields["birth_year"])
	assert.Equal(t, "phone number must have at least 10 digits", fields["phone"])
	assert.Equal(t, "street address is required", fields["address.line1"])

	err := ValidateDelivery(domain.Delivery{Method: domain.DeliveryBankTransfer, Bank: domain.BankAccount{AccountNumber: "1", AccountHolderName: " "}})
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, map[string]string{
		"bank.routing_number":      "routing number is required",
		"bank.account_holder_name": "account holder name is required",
	}, verrs.Fields())
}

package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/money"
)

// Input records. Dates are YYYY-MM-DD strings and amounts are decimal strings
// so they arrive from JSON without float rounding.

type CreatePropertyInput struct {
	ID          string          `json:"id" validate:"omitempty,max=64"`
	Title       string          `json:"title" validate:"required,max=200"`
	Address     leasing.Address `json:"address"`
	OwnerID     string          `json:"owner_id" validate:"max=64"`
	MonthlyRent string          `json:"monthly_rent" validate:"required,money"`
	Status      string          `json:"status" validate:"omitempty,oneof=available maintenance"`
}

// UpdatePropertyInput changes only the fields that are set.
type UpdatePropertyInput struct {
	ID          string           `json:"id" validate:"required"`
	Title       *string          `json:"title" validate:"omitempty,min=1,max=200"`
	Address     *leasing.Address `json:"address"`
	OwnerID     *string          `json:"owner_id" validate:"omitempty,max=64"`
	MonthlyRent *string          `json:"monthly_rent" validate:"omitempty,money"`
	Status      *string          `json:"status" validate:"omitempty,oneof=available maintenance"`
}

type SetPropertyStatusInput struct {
	PropertyID string `json:"property_id" validate:"required"`
	Status     string `json:"status" validate:"required,oneof=available maintenance"`
	Reason     string `json:"reason" validate:"required,max=500"`
}

type CreateTenantInput struct {
	ID             string `json:"id" validate:"omitempty,max=64"`
	FullName       string `json:"full_name" validate:"required,max=200"`
	Email          string `json:"email" validate:"omitempty,email,max=254"`
	Phone          string `json:"phone" validate:"max=32"`
	PropertyID     string `json:"property_id" validate:"omitempty,max=64"`
	LeaseStart     string `json:"lease_start" validate:"omitempty,datetime=2006-01-02"`
	LeaseEnd       string `json:"lease_end" validate:"omitempty,datetime=2006-01-02"`
	RentAmount     string `json:"rent_amount" validate:"omitempty,money"`
	RentPaymentDay int    `json:"rent_payment_day" validate:"omitempty,min=1,max=31"`
}

type AssignTenantInput struct {
	TenantID       string `json:"tenant_id" validate:"required"`
	PropertyID     string `json:"property_id" validate:"required"`
	LeaseStart     string `json:"lease_start" validate:"required,datetime=2006-01-02"`
	LeaseEnd       string `json:"lease_end" validate:"omitempty,datetime=2006-01-02"`
	RentAmount     string `json:"rent_amount" validate:"omitempty,money"`
	RentPaymentDay int    `json:"rent_payment_day" validate:"omitempty,min=1,max=31"`
}

type RecordPaymentInput struct {
	TenantID   string `json:"tenant_id" validate:"required"`
	PropertyID string `json:"property_id" validate:"omitempty,max=64"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount     string `json:"amount" validate:"required,positive_money"`
	Method     string `json:"method" validate:"required,oneof=cash check ach card other"`
	Memo       string `json:"memo" validate:"max=500"`
	// AppliesTo names the due date of the obligation this payment is for.
	AppliesTo string `json:"applies_to" validate:"omitempty,datetime=2006-01-02"`
}

type ApplyPaymentInput struct {
	PaymentID string `json:"payment_id" validate:"required"`
	DueDate   string `json:"due_date" validate:"required,datetime=2006-01-02"`
}

type PreviewProrationInput struct {
	PropertyID     string `json:"property_id" validate:"required"`
	LeaseStart     string `json:"lease_start" validate:"required,datetime=2006-01-02"`
	RentPaymentDay int    `json:"rent_payment_day" validate:"omitempty,min=1,max=31"`
}

type RentRollInput struct {
	AsOf string `json:"as_of_date" validate:"omitempty,datetime=2006-01-02"`
}

type OutstandingInput struct {
	AsOf            string `json:"as_of_date" validate:"omitempty,datetime=2006-01-02"`
	IncludeResolved bool   `json:"include_resolved"`
	TenantID        string `json:"tenant_id" validate:"omitempty,max=64"`
	PropertyID      string `json:"property_id" validate:"omitempty,max=64"`
}

type StatisticsInput struct {
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
	Months      int    `json:"months" validate:"omitempty,min=1,max=60"`
}

// =============================================================================
// VALIDATION
// =============================================================================

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
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		m, err := money.Parse(fl.Field().String())
		return err == nil && !m.IsNegative()
	})
	_ = v.RegisterValidation("positive_money", func(fl validator.FieldLevel) bool {
		m, err := money.Parse(fl.Field().String())
		return err == nil && m.IsPositive()
	})
	return v
}

// check validates in and reports failures as InvalidInput wrapping the
// validator's field errors.
func check(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		return &leasing.Error{Kind: leasing.KindInvalidInput, Code: "validation_failed", Message: "validation failed for one or more fields", Err: fields}
	}
	return leasing.Wrap(leasing.ErrInvalidInput, err, "invalid input")
}

// ValidationDetails maps field name to a readable message when err came from
// input validation.
func ValidationDetails(err error) map[string]string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return nil
	}
	details := make(map[string]string, len(fields))
	for _, fe := range fields {
		details[fe.Field()] = formatValidationError(fe)
	}
	return details
}

func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "oneof":
		return "Must be one of: " + err.Param()
	case "datetime":
		return "Must be a date formatted YYYY-MM-DD"
	case "money":
		return "Must be a non-negative decimal amount"
	case "positive_money":
		return "Must be a decimal amount greater than 0"
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}

func parseMoney(s string) money.Money {
	// Inputs reaching this point passed the money tag.
	m, _ := money.Parse(s)
	return m
}

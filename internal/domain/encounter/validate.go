package encounter

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ehr/clinicdesk/internal/domain/reference"
)

const (
	SectionEncounter       = "encounter"
	SectionMedications     = "medications"
	SectionLabTests        = "labTests"
	SectionProcedures      = "procedures"
	SectionOrders          = "orders"
	SectionNextAppointment = "nextAppointment"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError blocks a single action. Section and Index locate the
// offending part of the form; Index is -1 when the error is not about an
// existing line.
type ValidationError struct {
	Section string `json:"section"`
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %s", e.Section, e.Index, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Section, e.Message)
}

// checkStruct runs the struct tags on v and turns the first failure into a
// ValidationError.
func checkStruct(section string, index int, v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate %s: %w", section, err)
	}
	fe := fieldErrs[0]
	return &ValidationError{
		Section: section,
		Index:   index,
		Field:   fe.Field(),
		Message: fieldMessage(fe),
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must match %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// submitCore is the subset of the draft that must be filled before submit.
type submitCore struct {
	DoctorID      string `json:"doctorId" validate:"required"`
	EncounterDate string `json:"encounterDate" validate:"required,datetime=2006-01-02"`
	VisitType     string `json:"visitType" validate:"required"`
}

// StockLookup reports the stock status of a medication, if known.
type StockLookup func(medicationID string) (reference.InventoryStatus, bool)

// ValidateForSubmit checks that the draft can be submitted: the core fields
// are filled, the follow-up appointment is well formed, and every medication
// that is in stock carries a quantity.
func ValidateForSubmit(d Draft, stock StockLookup) error {
	core := submitCore{DoctorID: d.DoctorID, EncounterDate: d.EncounterDate, VisitType: d.VisitType}
	if err := checkStruct(SectionEncounter, -1, core); err != nil {
		return err
	}
	if err := checkStruct(SectionNextAppointment, -1, d.NextAppointment); err != nil {
		return err
	}
	for i, l := range d.Medications {
		m := l.Data()
		if m.Quantity > 0 || stock == nil {
			continue
		}
		if st, ok := stock(m.MedicationID); ok && st.HasStock {
			return &ValidationError{
				Section: SectionMedications,
				Index:   i,
				Field:   "quantity",
				Message: "quantity is required for medications in stock",
			}
		}
	}
	return nil
}

package encounter

import (
	"errors"
	"fmt"
	"slices"
)

// ErrLineIndex is returned when an update or removal names a line that does
// not exist.
var ErrLineIndex = errors.New("line index out of range")

// Fields is a partial update of the core encounter fields. Nil fields are left
// unchanged.
type Fields struct {
	DoctorID                *string `json:"doctorId"`
	EncounterDate           *string `json:"encounterDate" validate:"omitempty,datetime=2006-01-02"`
	VisitType               *string `json:"visitType"`
	Department              *string `json:"department"`
	ChiefComplaint          *string `json:"chiefComplaint"`
	Symptoms                *string `json:"symptoms"`
	HistoryOfPresentIllness *string `json:"historyOfPresentIllness"`
	PhysicalExamination     *string `json:"physicalExamination"`
	Diagnosis               *string `json:"diagnosis"`
	Treatment               *string `json:"treatment"`
	Outcome                 *string `json:"outcome"`
	Notes                   *string `json:"notes"`
}

func ApplyFields(d Draft, f Fields) Draft {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&d.DoctorID, f.DoctorID)
	set(&d.EncounterDate, f.EncounterDate)
	set(&d.VisitType, f.VisitType)
	set(&d.Department, f.Department)
	set(&d.ChiefComplaint, f.ChiefComplaint)
	set(&d.Symptoms, f.Symptoms)
	set(&d.HistoryOfPresentIllness, f.HistoryOfPresentIllness)
	set(&d.PhysicalExamination, f.PhysicalExamination)
	set(&d.Diagnosis, f.Diagnosis)
	set(&d.Treatment, f.Treatment)
	set(&d.Outcome, f.Outcome)
	set(&d.Notes, f.Notes)
	return d
}

func SetNextAppointment(d Draft, a NextAppointment) Draft {
	d.NextAppointment = a
	return d
}

func AddMedication(d Draft, m Medication) Draft {
	d.Medications = appendLine(d.Medications, Pending(m))
	return d
}

func UpdateMedication(d Draft, i int, m Medication) (Draft, error) {
	lines, err := replaceLine(d.Medications, i, m)
	if err != nil {
		return d, fmt.Errorf("update medication: %w", err)
	}
	d.Medications = lines
	return d, nil
}

func RemoveMedication(d Draft, i int) (Draft, error) {
	lines, err := removeLine(d.Medications, i)
	if err != nil {
		return d, fmt.Errorf("remove medication: %w", err)
	}
	d.Medications = lines
	return d, nil
}

func AddLabTest(d Draft, t LabTest) Draft {
	d.LabTests = appendLine(d.LabTests, Pending(t))
	return d
}

func UpdateLabTest(d Draft, i int, t LabTest) (Draft, error) {
	lines, err := replaceLine(d.LabTests, i, t)
	if err != nil {
		return d, fmt.Errorf("update lab test: %w", err)
	}
	d.LabTests = lines
	return d, nil
}

func RemoveLabTest(d Draft, i int) (Draft, error) {
	lines, err := removeLine(d.LabTests, i)
	if err != nil {
		return d, fmt.Errorf("remove lab test: %w", err)
	}
	d.LabTests = lines
	return d, nil
}

func AddProcedure(d Draft, p Procedure) Draft {
	d.Procedures = appendLine(d.Procedures, Pending(p))
	return d
}

func UpdateProcedure(d Draft, i int, p Procedure) (Draft, error) {
	lines, err := replaceLine(d.Procedures, i, p)
	if err != nil {
		return d, fmt.Errorf("update procedure: %w", err)
	}
	d.Procedures = lines
	return d, nil
}

func RemoveProcedure(d Draft, i int) (Draft, error) {
	lines, err := removeLine(d.Procedures, i)
	if err != nil {
		return d, fmt.Errorf("remove procedure: %w", err)
	}
	d.Procedures = lines
	return d, nil
}

func AddOrder(d Draft, o Order) Draft {
	d.Orders = appendLine(d.Orders, Pending(o))
	return d
}

func UpdateOrder(d Draft, i int, o Order) (Draft, error) {
	lines, err := replaceLine(d.Orders, i, o)
	if err != nil {
		return d, fmt.Errorf("update order: %w", err)
	}
	d.Orders = lines
	return d, nil
}

func RemoveOrder(d Draft, i int) (Draft, error) {
	lines, err := removeLine(d.Orders, i)
	if err != nil {
		return d, fmt.Errorf("remove order: %w", err)
	}
	d.Orders = lines
	return d, nil
}

// HasData reports whether the draft holds anything worth keeping: a narrative
// field or at least one line. Doctor, date and visit type are prefilled and do
// not count.
func HasData(d Draft) bool {
	for _, s := range []string{
		d.ChiefComplaint, d.Symptoms, d.HistoryOfPresentIllness, d.PhysicalExamination,
		d.Diagnosis, d.Treatment, d.Outcome, d.Notes,
	} {
		if s != "" {
			return true
		}
	}
	return len(d.Medications) > 0 || len(d.LabTests) > 0 || len(d.Procedures) > 0 || len(d.Orders) > 0
}

func appendLine[T any](lines []Line[T], l Line[T]) []Line[T] {
	out := make([]Line[T], 0, len(lines)+1)
	out = append(out, lines...)
	return append(out, l)
}

func replaceLine[T any](lines []Line[T], i int, data T) ([]Line[T], error) {
	if i < 0 || i >= len(lines) {
		return nil, ErrLineIndex
	}
	out := slices.Clone(lines)
	out[i] = out[i].WithData(data)
	return out, nil
}

func removeLine[T any](lines []Line[T], i int) ([]Line[T], error) {
	if i < 0 || i >= len(lines) {
		return nil, ErrLineIndex
	}
	out := make([]Line[T], 0, len(lines)-1)
	out = append(out, lines[:i]...)
	return append(out, lines[i+1:]...), nil
}

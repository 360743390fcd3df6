package encounter

import (
	"time"

	"github.com/ehr/clinicdesk/internal/platform/apiclient"
)

// NewLine is the edit index used when the candidate is a line being added.
const NewLine = -1

var openLabStatuses = map[string]bool{
	"pending":          true,
	"sample_collected": true,
	"in_progress":      true,
}

var openPrescriptionStatuses = map[string]bool{
	"pending": true,
	"active":  true,
}

// labTestUnresolved reports whether a test on an existing order is still in
// flight. A test-level status takes precedence over the order's status.
func labTestUnresolved(order apiclient.LabOrder, test apiclient.LabOrderTest) bool {
	status := test.Status
	if status == "" {
		status = order.Status
	}
	if openLabStatuses[status] {
		return true
	}
	return status == "completed" && !test.HasResult()
}

// Checker decides whether a catalog item may be added to a draft, given the
// patient's unresolved orders.
type Checker struct {
	draft         Draft
	labOrders     []apiclient.LabOrder
	prescriptions []apiclient.Prescription
}

func NewChecker(d Draft, labOrders []apiclient.LabOrder, prescriptions []apiclient.Prescription) *Checker {
	return &Checker{draft: d, labOrders: labOrders, prescriptions: prescriptions}
}

// IsLabTestBlocked reports whether testTypeID is already on another line of
// the draft or on an unresolved lab order. editIndex is the line being edited,
// or NewLine.
func (c *Checker) IsLabTestBlocked(testTypeID string, editIndex int) bool {
	if testTypeID == "" {
		return false
	}
	for i, l := range c.draft.LabTests {
		if i != editIndex && l.Data().TestTypeID == testTypeID {
			return true
		}
	}
	own := recordAt(c.draft.LabTests, editIndex)
	for _, o := range c.labOrders {
		if own != "" && o.ID == own {
			continue
		}
		for _, t := range o.Tests {
			if t.TestTypeID == testTypeID && labTestUnresolved(o, t) {
				return true
			}
		}
	}
	return false
}

// IsMedicationBlocked reports whether medicationID is already on another line
// of the draft or on an undispensed item of a pending or active prescription.
func (c *Checker) IsMedicationBlocked(medicationID string, editIndex int) bool {
	if medicationID == "" {
		return false
	}
	for i, l := range c.draft.Medications {
		if i != editIndex && l.Data().MedicationID == medicationID {
			return true
		}
	}
	own := recordAt(c.draft.Medications, editIndex)
	for _, p := range c.prescriptions {
		if !openPrescriptionStatuses[p.Status] || (own != "" && p.ID == own) {
			continue
		}
		for _, item := range p.Items {
			if item.MedicationID == medicationID && !item.Dispensed {
				return true
			}
		}
	}
	return false
}

// recordAt returns the source record of a persisted line, so a line that
// mirrors an existing order is not blocked by that same order.
func recordAt[T any](lines []Line[T], i int) string {
	if i < 0 || i >= len(lines) || !lines[i].IsPersisted() {
		return ""
	}
	return lines[i].RecordID()
}

// AvailableLabTests filters the catalog down to the tests that can be picked
// for the line at editIndex. The line's own value stays selectable, and so
// does tentative, the id currently picked in an add dialog.
func (c *Checker) AvailableLabTests(catalog []apiclient.TestType, editIndex int, tentative string) []apiclient.TestType {
	out := make([]apiclient.TestType, 0, len(catalog))
	for _, t := range catalog {
		if t.ID == tentative || !c.IsLabTestBlocked(t.ID, editIndex) {
			out = append(out, t)
		}
	}
	return out
}

func (c *Checker) AvailableMedications(catalog []apiclient.Medication, editIndex int, tentative string) []apiclient.Medication {
	out := make([]apiclient.Medication, 0, len(catalog))
	for _, m := range catalog {
		if m.ID == tentative || !c.IsMedicationBlocked(m.ID, editIndex) {
			out = append(out, m)
		}
	}
	return out
}

// Prepopulate adds Persisted lines for the patient's unresolved orders placed
// on the day of today, so the clinician sees what is already in flight for
// this visit without resubmitting it.
func Prepopulate(d Draft, labOrders []apiclient.LabOrder, prescriptions []apiclient.Prescription, today time.Time) Draft {
	day := today.Format(dateLayout)
	sameDay := func(t time.Time) bool {
		return !t.IsZero() && t.In(today.Location()).Format(dateLayout) == day
	}

	for _, o := range labOrders {
		if !sameDay(o.CreatedAt) {
			continue
		}
		for _, t := range o.Tests {
			if !labTestUnresolved(o, t) {
				continue
			}
			d.LabTests = appendLine(d.LabTests, Persisted(o.ID, LabTest{
				TestTypeID:         t.TestTypeID,
				Priority:           Priority(o.Priority),
				ClinicalIndication: o.ClinicalIndication,
			}))
		}
	}

	for _, p := range prescriptions {
		if !openPrescriptionStatuses[p.Status] || !sameDay(p.CreatedAt) {
			continue
		}
		for _, item := range p.Items {
			if item.Dispensed {
				continue
			}
			d.Medications = appendLine(d.Medications, Persisted(p.ID, Medication{
				MedicationID: item.MedicationID,
				Dosage:       item.Dosage,
				Frequency:    item.Frequency,
				Duration:     item.Duration,
				Quantity:     item.Quantity,
				Instructions: item.Instructions,
			}))
		}
	}
	return d
}

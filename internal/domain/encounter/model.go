package encounter

import (
	"time"

	"github.com/ehr/clinicdesk/internal/platform/apiclient"
)

const (
	DefaultVisitType = "Outpatient"
	dateLayout       = "2006-01-02"
)

type Priority string

const (
	PriorityRoutine Priority = "routine"
	PriorityUrgent  Priority = "urgent"
	PriorityStat    Priority = "stat"
)

// Medication is the editable part of a prescription line.
type Medication struct {
	MedicationID string `json:"medicationId" validate:"required"`
	Dosage       string `json:"dosage" validate:"required"`
	Frequency    string `json:"frequency" validate:"required"`
	Duration     string `json:"duration" validate:"required"`
	Quantity     int    `json:"quantity" validate:"gte=0"`
	Instructions string `json:"instructions,omitempty"`
}

type LabTest struct {
	TestTypeID         string   `json:"testTypeId" validate:"required"`
	Priority           Priority `json:"priority" validate:"required,oneof=routine urgent stat"`
	ClinicalIndication string   `json:"clinicalIndication,omitempty"`
}

type Procedure struct {
	ProcedureID   string `json:"procedureId" validate:"required"`
	Notes         string `json:"notes,omitempty"`
	Complications string `json:"complications,omitempty"`
}

// Order is a consumable charge attached to the encounter.
type Order struct {
	ChargeID string `json:"chargeId" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
	Notes    string `json:"notes,omitempty"`
}

type NextAppointment struct {
	Date       string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Time       string `json:"time,omitempty" validate:"omitempty,datetime=15:04"`
	DoctorID   string `json:"doctorId,omitempty"`
	Department string `json:"department,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Draft is the in-progress state of one encounter. It is treated as a value:
// the reducer functions return modified copies and never alias line slices.
type Draft struct {
	PatientID               string          `json:"patientId"`
	DoctorID                string          `json:"doctorId"`
	EncounterDate           string          `json:"encounterDate"`
	VisitType               string          `json:"visitType"`
	Department              string          `json:"department,omitempty"`
	ChiefComplaint          string          `json:"chiefComplaint"`
	Symptoms                string          `json:"symptoms"`
	HistoryOfPresentIllness string          `json:"historyOfPresentIllness"`
	PhysicalExamination     string          `json:"physicalExamination"`
	Diagnosis               string          `json:"diagnosis"`
	Treatment               string          `json:"treatment"`
	Outcome                 string          `json:"outcome"`
	Notes                   string          `json:"notes"`
	NextAppointment         NextAppointment `json:"nextAppointment"`

	Medications []Line[Medication] `json:"medications"`
	LabTests    []Line[LabTest]    `json:"labTests"`
	Procedures  []Line[Procedure]  `json:"procedures"`
	Orders      []Line[Order]      `json:"orders"`
}

// NewDraft returns a blank encounter for the patient dated today.
func NewDraft(patientID string, today time.Time) Draft {
	return Draft{
		PatientID:     patientID,
		EncounterDate: today.Format(dateLayout),
		VisitType:     DefaultVisitType,
		Medications:   []Line[Medication]{},
		LabTests:      []Line[LabTest]{},
		Procedures:    []Line[Procedure]{},
		Orders:        []Line[Order]{},
	}
}

// PatientContext is the read-only clinical background shown beside the form.
type PatientContext struct {
	Patient       *apiclient.Patient        `json:"patient"`
	Allergies     []apiclient.Allergy       `json:"allergies"`
	Vitals        []apiclient.VitalSign     `json:"vitals"`
	History       []apiclient.MedicalRecord `json:"history"`
	LabOrders     []apiclient.LabOrder      `json:"labOrders"`
	Prescriptions []apiclient.Prescription  `json:"prescriptions"`
}

type State string

const (
	StateClosed     State = "closed"
	StateLoading    State = "loading"
	StateEditing    State = "editing"
	StateSubmitting State = "submitting"
)

type OutcomeStatus string

const (
	StatusSuccess        OutcomeStatus = "success"
	StatusPartialSuccess OutcomeStatus = "partial_success"
)

// Failure is one sub-resource call that was rejected during submission.
type Failure struct {
	Resource string `json:"resource"`
	// Index is the draft line the call was built from, or -1 for calls that
	// bundle several lines.
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Created names one resource persisted by a submission.
type Created struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

// Outcome summarises a submission in which the medical record was created.
type Outcome struct {
	MedicalRecordID string        `json:"medicalRecordId"`
	Status          OutcomeStatus `json:"status"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	Failures        []Failure     `json:"failures,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Created         []Created     `json:"created,omitempty"`
}

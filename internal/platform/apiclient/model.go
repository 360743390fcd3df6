package apiclient

import "time"

// -- Patient context --

type Patient struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type Allergy struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	Allergen  string `json:"allergen"`
	Severity  string `json:"severity,omitempty"`
	Reaction  string `json:"reaction,omitempty"`
}

type VitalSign struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patientId"`
	RecordedAt       time.Time `json:"recordedAt"`
	Temperature      *float64  `json:"temperature,omitempty"`
	SystolicBP       *int      `json:"systolicBp,omitempty"`
	DiastolicBP      *int      `json:"diastolicBp,omitempty"`
	PulseRate        *int      `json:"pulseRate,omitempty"`
	RespiratoryRate  *int      `json:"respiratoryRate,omitempty"`
	OxygenSaturation *float64  `json:"oxygenSaturation,omitempty"`
	Weight           *float64  `json:"weight,omitempty"`
}

// MedicalRecord is one persisted encounter.
type MedicalRecord struct {
	ID                      string    `json:"id"`
	PatientID               string    `json:"patientId"`
	DoctorID                string    `json:"doctorId"`
	EncounterDate           string    `json:"encounterDate"`
	VisitType               string    `json:"visitType"`
	Department              string    `json:"department,omitempty"`
	ChiefComplaint          string    `json:"chiefComplaint,omitempty"`
	Symptoms                string    `json:"symptoms,omitempty"`
	HistoryOfPresentIllness string    `json:"historyOfPresentIllness,omitempty"`
	PhysicalExamination     string    `json:"physicalExamination,omitempty"`
	Diagnosis               string    `json:"diagnosis,omitempty"`
	Treatment               string    `json:"treatment,omitempty"`
	Outcome                 string    `json:"outcome,omitempty"`
	Notes                   string    `json:"notes,omitempty"`
	CreatedAt               time.Time `json:"createdAt"`
}

// -- Catalogs --

type Doctor struct {
	ID             string `json:"id"`
	UserID         string `json:"userId,omitempty"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Specialization string `json:"specialization,omitempty"`
	Department     string `json:"department,omitempty"`
}

type Medication struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GenericName string `json:"genericName,omitempty"`
	Strength    string `json:"strength,omitempty"`
	DosageForm  string `json:"dosageForm,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

type TestType struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Code     string  `json:"code,omitempty"`
	Category string  `json:"category,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

type Procedure struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Code  string  `json:"code,omitempty"`
	Price float64 `json:"price,omitempty"`
}

// Consumable is a chargeable catalog item; its ID is the charge id used by
// order lines and invoices.
type Consumable struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Price    float64 `json:"price"`
}

// InventoryBatch is one stocked batch of a medication.
type InventoryBatch struct {
	ID           string     `json:"id"`
	MedicationID string     `json:"medicationId"`
	BatchNumber  string     `json:"batchNumber,omitempty"`
	Quantity     int        `json:"quantity"`
	SellPrice    float64    `json:"sellPrice"`
	ExpiryDate   *time.Time `json:"expiryDate,omitempty"`
}

// -- Orders --

type LabOrderTest struct {
	TestTypeID string  `json:"testTypeId"`
	Status     string  `json:"status,omitempty"`
	Result     *string `json:"result,omitempty"`
}

// HasResult reports whether a result value has been recorded for the test.
func (t LabOrderTest) HasResult() bool {
	return t.Result != nil && *t.Result != ""
}

type LabOrder struct {
	ID                 string         `json:"id"`
	PatientID          string         `json:"patientId"`
	DoctorID           string         `json:"doctorId,omitempty"`
	MedicalRecordID    string         `json:"medicalRecordId,omitempty"`
	Priority           string         `json:"priority"`
	Status             string         `json:"status"`
	ClinicalIndication string         `json:"clinicalIndication,omitempty"`
	Tests              []LabOrderTest `json:"tests"`
	CreatedAt          time.Time      `json:"createdAt"`
}

type PrescriptionItem struct {
	MedicationID string `json:"medicationId"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Dispensed    bool   `json:"dispensed"`
}

type Prescription struct {
	ID              string             `json:"id"`
	PatientID       string             `json:"patientId"`
	DoctorID        string             `json:"doctorId,omitempty"`
	MedicalRecordID string             `json:"medicalRecordId,omitempty"`
	Status          string             `json:"status"`
	Items           []PrescriptionItem `json:"items"`
	CreatedAt       time.Time          `json:"createdAt"`
}

type PatientProcedure struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patientId"`
	ProcedureID     string    `json:"procedureId"`
	MedicalRecordID string    `json:"medicalRecordId,omitempty"`
	Status          string    `json:"status,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Invoice struct {
	ID            string  `json:"id"`
	InvoiceNumber string  `json:"invoiceNumber,omitempty"`
	PatientID     string  `json:"patientId"`
	TotalAmount   float64 `json:"totalAmount"`
	Status        string  `json:"status,omitempty"`
}

type QueueEntry struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	Queue     string `json:"queue"`
	Position  int    `json:"position,omitempty"`
}

type Appointment struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId,omitempty"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Status    string `json:"status,omitempty"`
}

// -- Requests --

type MedicalRecordRequest struct {
	PatientID               string `json:"patientId"`
	DoctorID                string `json:"doctorId"`
	EncounterDate           string `json:"encounterDate"`
	VisitType               string `json:"visitType"`
	Department              string `json:"department,omitempty"`
	ChiefComplaint          string `json:"chiefComplaint,omitempty"`
	Symptoms                string `json:"symptoms,omitempty"`
	HistoryOfPresentIllness string `json:"historyOfPresentIllness,omitempty"`
	PhysicalExamination     string `json:"physicalExamination,omitempty"`
	Diagnosis               string `json:"diagnosis,omitempty"`
	Treatment               string `json:"treatment,omitempty"`
	Outcome                 string `json:"outcome,omitempty"`
	Notes                   string `json:"notes,omitempty"`
}

type PrescriptionItemRequest struct {
	MedicationID string `json:"medicationId"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Quantity     int    `json:"quantity,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type PrescriptionRequest struct {
	PatientID       string                    `json:"patientId"`
	DoctorID        string                    `json:"doctorId"`
	MedicalRecordID string                    `json:"medicalRecordId"`
	Items           []PrescriptionItemRequest `json:"items"`
}

type LabOrderTestRequest struct {
	TestTypeID         string `json:"testTypeId"`
	ClinicalIndication string `json:"clinicalIndication,omitempty"`
}

type LabOrderRequest struct {
	PatientID          string                `json:"patientId"`
	DoctorID           string                `json:"doctorId"`
	MedicalRecordID    string                `json:"medicalRecordId"`
	Priority           string                `json:"priority"`
	ClinicalIndication string                `json:"clinicalIndication,omitempty"`
	Tests              []LabOrderTestRequest `json:"tests"`
}

type ProcedureRequest struct {
	PatientID       string `json:"patientId"`
	DoctorID        string `json:"doctorId"`
	MedicalRecordID string `json:"medicalRecordId"`
	ProcedureID     string `json:"procedureId"`
	ProcedureDate   string `json:"procedureDate"`
	Notes           string `json:"notes,omitempty"`
	Complications   string `json:"complications,omitempty"`
}

type InvoiceItemRequest struct {
	ChargeID    string  `json:"chargeId"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
	Notes       string  `json:"notes,omitempty"`
}

type InvoiceRequest struct {
	PatientID       string               `json:"patientId"`
	MedicalRecordID string               `json:"medicalRecordId"`
	Items           []InvoiceItemRequest `json:"items"`
	TotalAmount     float64              `json:"totalAmount"`
}

type QueueEntryRequest struct {
	PatientID string `json:"patientId"`
	Queue     string `json:"queue"`
	InvoiceID string `json:"invoiceId,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type AppointmentRequest struct {
	PatientID  string `json:"patientId"`
	DoctorID   string `json:"doctorId"`
	Department string `json:"department,omitempty"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Reason     string `json:"reason,omitempty"`
	Type       string `json:"type"`
}

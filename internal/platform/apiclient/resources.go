package apiclient

import (
	"context"
	"net/url"
)

// -- Patient context (read-only) --

func (c *Client) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	p, err := get[Patient](ctx, c, "/patients/"+url.PathEscape(patientID), nil)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListAllergies(ctx context.Context, patientID string) ([]Allergy, error) {
	return get[[]Allergy](ctx, c, "/patients/"+url.PathEscape(patientID)+"/allergies", nil)
}

func (c *Client) ListVitals(ctx context.Context, patientID string) ([]VitalSign, error) {
	return get[[]VitalSign](ctx, c, "/patients/"+url.PathEscape(patientID)+"/vitals", nil)
}

func (c *Client) ListMedicalRecords(ctx context.Context, patientID string) ([]MedicalRecord, error) {
	return get[[]MedicalRecord](ctx, c, "/patients/"+url.PathEscape(patientID)+"/medical-records", nil)
}

func (c *Client) ListLabOrders(ctx context.Context, patientID string) ([]LabOrder, error) {
	return get[[]LabOrder](ctx, c, "/lab-orders", patientQuery(patientID))
}

func (c *Client) ListPrescriptions(ctx context.Context, patientID string) ([]Prescription, error) {
	return get[[]Prescription](ctx, c, "/prescriptions", patientQuery(patientID))
}

// -- Catalogs --

func (c *Client) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return get[[]Doctor](ctx, c, "/doctors", nil)
}

func (c *Client) ListTestTypes(ctx context.Context) ([]TestType, error) {
	return get[[]TestType](ctx, c, "/lab-test-types", nil)
}

func (c *Client) ListMedications(ctx context.Context) ([]Medication, error) {
	return get[[]Medication](ctx, c, "/medications", nil)
}

func (c *Client) ListProcedures(ctx context.Context) ([]Procedure, error) {
	return get[[]Procedure](ctx, c, "/procedures", nil)
}

func (c *Client) ListConsumables(ctx context.Context) ([]Consumable, error) {
	return get[[]Consumable](ctx, c, "/consumables", nil)
}

func (c *Client) ListInventory(ctx context.Context) ([]InventoryBatch, error) {
	return get[[]InventoryBatch](ctx, c, "/inventory", nil)
}

// -- Writes --

func (c *Client) CreateMedicalRecord(ctx context.Context, req MedicalRecordRequest) (*MedicalRecord, error) {
	return post[MedicalRecord](ctx, c, "/medical-records", req)
}

func (c *Client) CreatePrescription(ctx context.Context, req PrescriptionRequest) (*Prescription, error) {
	return post[Prescription](ctx, c, "/prescriptions", req)
}

func (c *Client) CreateLabOrder(ctx context.Context, req LabOrderRequest) (*LabOrder, error) {
	return post[LabOrder](ctx, c, "/lab-orders", req)
}

func (c *Client) CreateProcedure(ctx context.Context, req ProcedureRequest) (*PatientProcedure, error) {
	return post[PatientProcedure](ctx, c, "/procedures", req)
}

func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	return post[Invoice](ctx, c, "/invoices", req)
}

// Enqueue adds the patient to a wait-list. The API answers 409 when the
// patient is already queued; callers treat that as non-fatal.
func (c *Client) Enqueue(ctx context.Context, req QueueEntryRequest) (*QueueEntry, error) {
	return post[QueueEntry](ctx, c, "/queue", req)
}

func (c *Client) CreateAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error) {
	return post[Appointment](ctx, c, "/appointments", req)
}

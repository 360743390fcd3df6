package submission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicdesk/internal/domain/encounter"
	"github.com/ehr/clinicdesk/internal/domain/reference"
	"github.com/ehr/clinicdesk/internal/platform/apiclient"
	"github.com/ehr/clinicdesk/internal/platform/telemetry"
)

// mockGateway records every create call. Failures are keyed by what the
// request creates.
type mockGateway struct {
	mu            sync.Mutex
	records       []apiclient.MedicalRecordRequest
	prescriptions []apiclient.PrescriptionRequest
	labOrders     []apiclient.LabOrderRequest
	procedures    []apiclient.ProcedureRequest
	invoices      []apiclient.InvoiceRequest
	queue         []apiclient.QueueEntryRequest
	appointments  []apiclient.AppointmentRequest

	recordErr      error
	failProcedures map[string]bool
	failPriorities map[string]bool
	queueErr       error
	appointmentErr error
	seq            int
	keys           []string
}

func newMockGateway() *mockGateway {
	return &mockGateway{failProcedures: map[string]bool{}, failPriorities: map[string]bool{}}
}

func (m *mockGateway) noteKey(ctx context.Context) {
	key, _ := apiclient.IdempotencyKeyFrom(ctx)
	m.keys = append(m.keys, key)
}

func (m *mockGateway) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *mockGateway) CreateMedicalRecord(_ context.Context, req apiclient.MedicalRecordRequest) (*apiclient.MedicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, req)
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	return &apiclient.MedicalRecord{ID: m.nextID("mr"), PatientID: req.PatientID}, nil
}

func (m *mockGateway) CreatePrescription(ctx context.Context, req apiclient.PrescriptionRequest) (*apiclient.Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteKey(ctx)
	m.prescriptions = append(m.prescriptions, req)
	return &apiclient.Prescription{ID: m.nextID("rx")}, nil
}

func (m *mockGateway) CreateLabOrder(ctx context.Context, req apiclient.LabOrderRequest) (*apiclient.LabOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteKey(ctx)
	m.labOrders = append(m.labOrders, req)
	if m.failPriorities[req.Priority] {
		return nil, &apiclient.APIError{StatusCode: http.StatusBadRequest, Message: "lab closed"}
	}
	return &apiclient.LabOrder{ID: m.nextID("lab")}, nil
}

func (m *mockGateway) CreateProcedure(ctx context.Context, req apiclient.ProcedureRequest) (*apiclient.PatientProcedure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteKey(ctx)
	m.procedures = append(m.procedures, req)
	if m.failProcedures[req.ProcedureID] {
		return nil, &apiclient.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "procedure not billable"}
	}
	return &apiclient.PatientProcedure{ID: m.nextID("proc")}, nil
}

func (m *mockGateway) CreateInvoice(ctx context.Context, req apiclient.InvoiceRequest) (*apiclient.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteKey(ctx)
	m.invoices = append(m.invoices, req)
	return &apiclient.Invoice{ID: m.nextID("inv"), TotalAmount: req.TotalAmount}, nil
}

func (m *mockGateway) Enqueue(ctx context.Context, req apiclient.QueueEntryRequest) (*apiclient.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteKey(ctx)
	m.queue = append(m.queue, req)
	if m.queueErr != nil {
		return nil, m.queueErr
	}
	return &apiclient.QueueEntry{ID: m.nextID("q")}, nil
}

func (m *mockGateway) CreateAppointment(ctx context.Context, req apiclient.AppointmentRequest) (*apiclient.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteKey(ctx)
	m.appointments = append(m.appointments, req)
	if m.appointmentErr != nil {
		return nil, m.appointmentErr
	}
	return &apiclient.Appointment{ID: m.nextID("appt")}, nil
}

func baseDraft() encounter.Draft {
	d := encounter.Draft{
		PatientID:      "p-1",
		DoctorID:       "doc-1",
		EncounterDate:  "2026-03-02",
		VisitType:      "Outpatient",
		Department:     "General Medicine",
		ChiefComplaint: "Headache",
	}
	return d
}

var testCatalog = &reference.Catalog{
	Consumables: []apiclient.Consumable{
		{ID: "gauze", Name: "Gauze swab", Price: 2},
		{ID: "syringe", Name: "Syringe 5ml", Price: 1.5},
	},
}

func TestSubmit_OnlyPendingMedications(t *testing.T) {
	gw := newMockGateway()
	o := New(gw, Config{}, zerolog.Nop())
	d := baseDraft()
	d.Medications = []encounter.Line[encounter.Medication]{
		encounter.Persisted("rx-old", encounter.Medication{MedicationID: "amox"}),
		encounter.Pending(encounter.Medication{MedicationID: "para", Dosage: "1g", Frequency: "3 times daily", Duration: "3 days", Quantity: 9}),
		encounter.Persisted("rx-old", encounter.Medication{MedicationID: "ibu"}),
	}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.prescriptions) != 1 {
		t.Fatalf("expected 1 prescription call, got %d", len(gw.prescriptions))
	}
	items := gw.prescriptions[0].Items
	if len(items) != 1 || items[0].MedicationID != "para" || items[0].Quantity != 9 {
		t.Errorf("expected only the pending line, got %+v", items)
	}
	if gw.prescriptions[0].MedicalRecordID != out.MedicalRecordID {
		t.Error("expected prescription to reference the new medical record")
	}
	if out.Status != encounter.StatusSuccess || out.Succeeded != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestSubmit_SkipsEmptySubResources(t *testing.T) {
	gw := newMockGateway()
	o := New(gw, Config{}, zerolog.Nop())
	d := baseDraft()
	d.LabTests = []encounter.Line[encounter.LabTest]{
		encounter.Persisted("lab-old", encounter.LabTest{TestTypeID: "cbc", Priority: encounter.PriorityRoutine}),
	}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.records) != 1 {
		t.Errorf("expected the medical record to be created, got %d calls", len(gw.records))
	}
	if n := len(gw.prescriptions) + len(gw.labOrders) + len(gw.procedures) + len(gw.invoices) + len(gw.queue) + len(gw.appointments); n != 0 {
		t.Errorf("expected no sub-resource calls, got %d", n)
	}
	if out.Succeeded != 0 || out.Failed != 0 || out.Status != encounter.StatusSuccess {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestSubmit_PartialProcedureFailure(t *testing.T) {
	gw := newMockGateway()
	gw.failProcedures["cast"] = true
	o := New(gw, Config{}, zerolog.Nop())
	d := baseDraft()
	d.Procedures = []encounter.Line[encounter.Procedure]{
		encounter.Pending(encounter.Procedure{ProcedureID: "suture"}),
		encounter.Pending(encounter.Procedure{ProcedureID: "cast"}),
		encounter.Pending(encounter.Procedure{ProcedureID: "dressing"}),
	}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err != nil {
		t.Fatalf("partial failure must not be a hard error: %v", err)
	}
	if len(gw.procedures) != 3 {
		t.Errorf("expected every procedure to be tried, got %d", len(gw.procedures))
	}
	if out.Succeeded != 2 || out.Failed != 1 {
		t.Errorf("expected 2 succeeded and 1 failed, got %d/%d", out.Succeeded, out.Failed)
	}
	if out.Status != encounter.StatusPartialSuccess {
		t.Errorf("expected partial_success, got %s", out.Status)
	}
	f := out.Failures[0]
	if f.Resource != ResourceProcedure || f.Index != 1 || f.Message != "procedure not billable" {
		t.Errorf("unexpected failure: %+v", f)
	}
}

func TestSubmit_IdempotencyKeysPerSubResource(t *testing.T) {
	gw := newMockGateway()
	o := New(gw, Config{BillingQueue: "pharmacy-cashier"}, zerolog.Nop())
	d := baseDraft()
	d.Medications = []encounter.Line[encounter.Medication]{
		encounter.Pending(encounter.Medication{MedicationID: "para", Quantity: 9}),
	}
	d.Procedures = []encounter.Line[encounter.Procedure]{
		encounter.Pending(encounter.Procedure{ProcedureID: "suture"}),
		encounter.Pending(encounter.Procedure{ProcedureID: "dressing"}),
	}
	d.Orders = []encounter.Line[encounter.Order]{
		encounter.Pending(encounter.Order{ChargeID: "gauze", Quantity: 1}),
	}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// prescription, two procedures, invoice and queue entry
	if len(gw.keys) != 5 {
		t.Fatalf("expected 5 keyed calls, got %d: %v", len(gw.keys), gw.keys)
	}
	seen := map[string]bool{}
	for _, k := range gw.keys {
		if !strings.HasPrefix(k, out.MedicalRecordID+"/") {
			t.Errorf("key %q is not scoped to record %s", k, out.MedicalRecordID)
		}
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
	for _, want := range []string{
		out.MedicalRecordID + "/procedure/0",
		out.MedicalRecordID + "/procedure/1",
		out.MedicalRecordID + "/prescription/items",
	} {
		if !seen[want] {
			t.Errorf("expected key %q, got %v", want, gw.keys)
		}
	}
}

func TestSubmit_GroupsLabTestsByPriority(t *testing.T) {
	gw := newMockGateway()
	o := New(gw, Config{}, zerolog.Nop())
	d := baseDraft()
	d.LabTests = []encounter.Line[encounter.LabTest]{
		encounter.Pending(encounter.LabTest{TestTypeID: "cbc", Priority: encounter.PriorityRoutine, ClinicalIndication: "fatigue"}),
		encounter.Pending(encounter.LabTest{TestTypeID: "lft", Priority: encounter.PriorityRoutine, ClinicalIndication: "fatigue"}),
		encounter.Pending(encounter.LabTest{TestTypeID: "trop", Priority: encounter.PriorityStat, ClinicalIndication: "chest pain"}),
	}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.labOrders) != 2 {
		t.Fatalf("expected 2 lab orders, got %d", len(gw.labOrders))
	}
	byPriority := map[string]apiclient.LabOrderRequest{}
	for _, req := range gw.labOrders {
		byPriority[req.Priority] = req
	}
	if got := byPriority["routine"]; len(got.Tests) != 2 || got.ClinicalIndication != "fatigue" {
		t.Errorf("unexpected routine order: %+v", got)
	}
	if got := byPriority["stat"]; len(got.Tests) != 1 || got.Tests[0].TestTypeID != "trop" {
		t.Errorf("unexpected stat order: %+v", got)
	}
	if out.Succeeded != 2 {
		t.Errorf("expected 2 successes, got %d", out.Succeeded)
	}
}

func TestSubmit_InvoicesOrdersAndQueues(t *testing.T) {
	gw := newMockGateway()
	o := New(gw, Config{BillingQueue: "pharmacy-cashier"}, zerolog.Nop())
	d := baseDraft()
	d.Orders = []encounter.Line[encounter.Order]{
		encounter.Pending(encounter.Order{ChargeID: "gauze", Quantity: 3}),
		encounter.Persisted("inv-old", encounter.Order{ChargeID: "gauze", Quantity: 10}),
		encounter.Pending(encounter.Order{ChargeID: "syringe", Quantity: 2, Notes: "IM"}),
	}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.invoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(gw.invoices))
	}
	inv := gw.invoices[0]
	if len(inv.Items) != 2 {
		t.Fatalf("expected 2 invoice items, got %d", len(inv.Items))
	}
	if inv.Items[0].UnitPrice != 2 || inv.Items[0].TotalPrice != 6 || inv.Items[0].Description != "Gauze swab" {
		t.Errorf("unexpected gauze item: %+v", inv.Items[0])
	}
	if inv.TotalAmount != 9 {
		t.Errorf("expected total 9, got %v", inv.TotalAmount)
	}
	if len(gw.queue) != 1 || gw.queue[0].Queue != "pharmacy-cashier" {
		t.Errorf("expected patient to be queued, got %+v", gw.queue)
	}
	if out.Succeeded != 1 || len(out.Warnings) != 0 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestSubmit_QueueFailureIsOnlyAWarning(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		warning string
	}{
		{"duplicate entry", &apiclient.APIError{StatusCode: http.StatusConflict, Message: "already queued"}, "already in the cashier queue"},
		{"server error", &apiclient.APIError{StatusCode: http.StatusInternalServerError, Message: "queue offline"}, "queue offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newMockGateway()
			gw.queueErr = tt.err
			o := New(gw, Config{}, zerolog.Nop())
			d := baseDraft()
			d.Orders = []encounter.Line[encounter.Order]{encounter.Pending(encounter.Order{ChargeID: "gauze", Quantity: 1})}

			out, err := o.Submit(context.Background(), d, testCatalog)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Status != encounter.StatusSuccess || out.Failed != 0 {
				t.Errorf("queue failure must not affect status: %+v", out)
			}
			if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], tt.warning) {
				t.Errorf("expected warning containing %q, got %v", tt.warning, out.Warnings)
			}
		})
	}
}

func TestSubmit_UnknownConsumableIsInvoicedAtZero(t *testing.T) {
	gw := newMockGateway()
	o := New(gw, Config{}, zerolog.Nop())
	d := baseDraft()
	d.Orders = []encounter.Line[encounter.Order]{encounter.Pending(encounter.Order{ChargeID: "mystery", Quantity: 2})}

	out, err := o.Submit(context.Background(), d, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.invoices[0].TotalAmount != 0 {
		t.Errorf("expected zero total, got %v", gw.invoices[0].TotalAmount)
	}
	if len(out.Warnings) != 1 {
		t.Errorf("expected a pricing warning, got %v", out.Warnings)
	}
}

func TestSubmit_FollowUp(t *testing.T) {
	followUp := func(d encounter.Draft) encounter.Draft {
		d.Outcome = "follow-up"
		d.NextAppointment = encounter.NextAppointment{Date: "2026-03-16", Time: "10:30", Reason: "review bloods"}
		return d
	}

	t.Run("booked", func(t *testing.T) {
		gw := newMockGateway()
		o := New(gw, Config{}, zerolog.Nop())
		out, err := o.Submit(context.Background(), followUp(baseDraft()), testCatalog)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(gw.appointments) != 1 {
			t.Fatalf("expected 1 appointment, got %d", len(gw.appointments))
		}
		a := gw.appointments[0]
		if a.DoctorID != "doc-1" || a.Department != "General Medicine" || a.Date != "2026-03-16" {
			t.Errorf("expected encounter doctor and department as fallback, got %+v", a)
		}
		if out.Succeeded != 0 {
			t.Errorf("follow-up must not count as a sub-resource, got %d", out.Succeeded)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		gw := newMockGateway()
		gw.appointmentErr = errors.New("slot taken")
		o := New(gw, Config{}, zerolog.Nop())
		out, err := o.Submit(context.Background(), followUp(baseDraft()), testCatalog)
		if err != nil {
			t.Fatalf("appointment failure must not fail the submission: %v", err)
		}
		if out.Status != encounter.StatusSuccess || len(out.Warnings) != 1 {
			t.Errorf("expected success with one warning, got %+v", out)
		}
	})

	t.Run("missing time", func(t *testing.T) {
		gw := newMockGateway()
		o := New(gw, Config{}, zerolog.Nop())
		d := followUp(baseDraft())
		d.NextAppointment.Time = ""
		out, _ := o.Submit(context.Background(), d, testCatalog)
		if len(gw.appointments) != 0 {
			t.Error("expected no appointment without a time")
		}
		if len(out.Warnings) != 1 {
			t.Errorf("expected a warning, got %v", out.Warnings)
		}
	})

	t.Run("other outcome", func(t *testing.T) {
		gw := newMockGateway()
		o := New(gw, Config{}, zerolog.Nop())
		d := followUp(baseDraft())
		d.Outcome = "Discharged"
		if _, err := o.Submit(context.Background(), d, testCatalog); err != nil {
			t.Fatal(err)
		}
		if len(gw.appointments) != 0 {
			t.Error("expected no appointment for a non follow-up outcome")
		}
	})
}

func TestSubmit_HardFailure(t *testing.T) {
	gw := newMockGateway()
	gw.recordErr = &apiclient.APIError{StatusCode: http.StatusBadGateway, Message: "upstream down"}
	o := New(gw, Config{}, zerolog.Nop())
	d := baseDraft()
	d.Medications = []encounter.Line[encounter.Medication]{encounter.Pending(encounter.Medication{MedicationID: "amox"})}
	d.Procedures = []encounter.Line[encounter.Procedure]{encounter.Pending(encounter.Procedure{ProcedureID: "suture"})}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err == nil {
		t.Fatal("expected hard failure")
	}
	if out != nil {
		t.Error("expected no outcome on hard failure")
	}
	if apiclient.Message(err) != "upstream down" {
		t.Errorf("expected normalised message, got %q", apiclient.Message(err))
	}
	if len(gw.prescriptions) != 0 || len(gw.procedures) != 0 {
		t.Error("no sub-resource may be created without a medical record")
	}
}

func TestSubmit_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	gw := newMockGateway()
	gw.failPriorities["stat"] = true
	o := New(gw, Config{}, zerolog.Nop())
	o.SetMetrics(telemetry.NewMetrics(reg))
	d := baseDraft()
	d.LabTests = []encounter.Line[encounter.LabTest]{
		encounter.Pending(encounter.LabTest{TestTypeID: "trop", Priority: encounter.PriorityStat}),
	}

	out, err := o.Submit(context.Background(), d, testCatalog)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != encounter.StatusPartialSuccess {
		t.Errorf("expected partial_success, got %s", out.Status)
	}
	n, err := testutil.GatherAndCount(reg, "clinicdesk_encounter_submissions_total", "clinicdesk_subresource_calls_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// one submission series plus medical_record/success and lab_order/failure
	if n != 3 {
		t.Errorf("expected 3 series, got %d", n)
	}
}

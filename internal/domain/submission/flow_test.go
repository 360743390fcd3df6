package submission

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicdesk/internal/domain/draft"
	"github.com/ehr/clinicdesk/internal/domain/encounter"
	"github.com/ehr/clinicdesk/internal/domain/reference"
	"github.com/ehr/clinicdesk/internal/platform/apiclient"
)

var flowNow = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

// hospital serves both the reads the composer needs and the writes the
// orchestrator makes.
type hospital struct {
	*mockGateway
	prescriptionsOnFile []apiclient.Prescription
}

func (h *hospital) ListDoctors(context.Context) ([]apiclient.Doctor, error) {
	return []apiclient.Doctor{{ID: "doc-7", UserID: "user-7", Department: "General Medicine"}}, nil
}

func (h *hospital) ListTestTypes(context.Context) ([]apiclient.TestType, error) {
	return []apiclient.TestType{{ID: "cbc"}, {ID: "trop"}}, nil
}

func (h *hospital) ListMedications(context.Context) ([]apiclient.Medication, error) {
	return []apiclient.Medication{{ID: "amox"}, {ID: "para"}}, nil
}

func (h *hospital) ListProcedures(context.Context) ([]apiclient.Procedure, error) {
	return []apiclient.Procedure{{ID: "suture"}}, nil
}

func (h *hospital) ListConsumables(context.Context) ([]apiclient.Consumable, error) {
	return []apiclient.Consumable{{ID: "gauze", Name: "Gauze swab", Price: 2}}, nil
}

func (h *hospital) ListInventory(context.Context) ([]apiclient.InventoryBatch, error) {
	return nil, nil
}

func (h *hospital) GetPatient(_ context.Context, id string) (*apiclient.Patient, error) {
	return &apiclient.Patient{ID: id, FirstName: "Amina"}, nil
}

func (h *hospital) ListAllergies(context.Context, string) ([]apiclient.Allergy, error) {
	return nil, nil
}

func (h *hospital) ListVitals(context.Context, string) ([]apiclient.VitalSign, error) {
	return nil, nil
}

func (h *hospital) ListMedicalRecords(context.Context, string) ([]apiclient.MedicalRecord, error) {
	return nil, nil
}

func (h *hospital) ListLabOrders(context.Context, string) ([]apiclient.LabOrder, error) {
	return nil, nil
}

func (h *hospital) ListPrescriptions(context.Context, string) ([]apiclient.Prescription, error) {
	return h.prescriptionsOnFile, nil
}

func TestComposerSubmitsThroughOrchestrator(t *testing.T) {
	h := &hospital{
		mockGateway: newMockGateway(),
		prescriptionsOnFile: []apiclient.Prescription{{
			ID:        "rx-earlier",
			Status:    "pending",
			CreatedAt: flowNow.Add(-2 * time.Hour),
			Items:     []apiclient.PrescriptionItem{{MedicationID: "amox", Dosage: "500mg", Frequency: "3 times daily", Duration: "5 days", Quantity: 15}},
		}},
	}
	h.failProcedures["suture"] = true

	repo := draft.NewMemoryRepo()
	store := draft.NewStore[encounter.Draft](repo, draft.DefaultTTL, zerolog.Nop())
	cache := reference.NewCache(h, time.Second, zerolog.Nop())
	orch := New(h, Config{}, zerolog.Nop())

	comp := encounter.NewComposer("p-1", encounter.Deps{
		Drafts:    store,
		Reference: cache,
		Patients:  h,
		Submitter: orch,
		Scheduler: encounter.RealScheduler(),
		Debounce:  time.Hour,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return flowNow },
	})
	ctx := context.Background()

	if err := comp.Open(ctx, encounter.OpenOptions{UserID: "user-7"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	d := comp.Draft()
	if d.DoctorID != "doc-7" {
		t.Errorf("expected signed-in doctor, got %q", d.DoctorID)
	}
	if len(d.Medications) != 1 || !d.Medications[0].IsPersisted() {
		t.Fatalf("expected today's prescription to be prepopulated, got %+v", d.Medications)
	}

	// the prepopulated medication cannot be prescribed twice
	if _, err := comp.AddMedication(encounter.Medication{MedicationID: "amox", Dosage: "1", Frequency: "once", Duration: "1 day"}); err == nil {
		t.Error("expected duplicate medication to be rejected")
	}

	complaint := "Cut on left hand"
	if _, err := comp.UpdateFields(encounter.Fields{ChiefComplaint: &complaint}); err != nil {
		t.Fatalf("update fields: %v", err)
	}
	steps := []func() (encounter.Draft, error){
		func() (encounter.Draft, error) {
			return comp.AddMedication(encounter.Medication{MedicationID: "para", Dosage: "1g", Frequency: "twice daily", Duration: "3 days", Quantity: 6})
		},
		func() (encounter.Draft, error) {
			return comp.AddLabTest(encounter.LabTest{TestTypeID: "cbc", Priority: encounter.PriorityRoutine})
		},
		func() (encounter.Draft, error) {
			return comp.AddProcedure(encounter.Procedure{ProcedureID: "suture"})
		},
		func() (encounter.Draft, error) {
			return comp.AddOrder(encounter.Order{ChargeID: "gauze", Quantity: 4})
		},
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	out, err := comp.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(h.records) != 1 || h.records[0].ChiefComplaint != complaint || h.records[0].DoctorID != "doc-7" {
		t.Errorf("unexpected medical record requests: %+v", h.records)
	}
	if len(h.prescriptions) != 1 || len(h.prescriptions[0].Items) != 1 || h.prescriptions[0].Items[0].MedicationID != "para" {
		t.Errorf("expected only the new medication to be prescribed, got %+v", h.prescriptions)
	}
	if len(h.invoices) != 1 || h.invoices[0].TotalAmount != 8 {
		t.Errorf("expected one invoice of 8, got %+v", h.invoices)
	}
	if out.Status != encounter.StatusPartialSuccess || out.Succeeded != 3 || out.Failed != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}

	if comp.State() != encounter.StateClosed {
		t.Errorf("expected composer to close after submission, got %s", comp.State())
	}
	if repo.Len() != 0 {
		t.Error("expected stored draft to be cleared after submission")
	}
	if v := comp.View(); v.LastOutcome == nil || v.LastOutcome.MedicalRecordID != out.MedicalRecordID {
		t.Error("expected last outcome to be kept on the view")
	}
}

func TestComposerKeepsDraftOnHardFailure(t *testing.T) {
	h := &hospital{mockGateway: newMockGateway()}
	h.recordErr = &apiclient.APIError{StatusCode: 503, Message: "maintenance"}

	repo := draft.NewMemoryRepo()
	comp := encounter.NewComposer("p-2", encounter.Deps{
		Drafts:    draft.NewStore[encounter.Draft](repo, draft.DefaultTTL, zerolog.Nop()),
		Reference: reference.NewCache(h, time.Second, zerolog.Nop()),
		Patients:  h,
		Submitter: New(h, Config{}, zerolog.Nop()),
		Scheduler: encounter.RealScheduler(),
		Debounce:  time.Hour,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return flowNow },
	})
	ctx := context.Background()
	if err := comp.Open(ctx, encounter.OpenOptions{DoctorID: "doc-7"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := comp.AddProcedure(encounter.Procedure{ProcedureID: "suture"}); err != nil {
		t.Fatalf("add procedure: %v", err)
	}

	if _, err := comp.Submit(ctx); err == nil {
		t.Fatal("expected hard failure")
	}
	if comp.State() != encounter.StateEditing {
		t.Errorf("expected composer back in editing, got %s", comp.State())
	}
	if len(comp.Draft().Procedures) != 1 {
		t.Error("expected draft to be intact")
	}
	if repo.Len() != 1 {
		t.Error("expected draft to be flushed to storage before submitting")
	}
	if len(h.procedures) != 0 {
		t.Error("expected no procedure without a medical record")
	}
}

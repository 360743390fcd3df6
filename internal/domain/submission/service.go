// Package submission turns an encounter draft into hospital records: the
// medical record first, then its prescriptions, lab orders, procedures and
// consumable invoice, and finally a follow-up appointment.
package submission

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/clinicdesk/internal/domain/encounter"
	"github.com/ehr/clinicdesk/internal/domain/reference"
	"github.com/ehr/clinicdesk/internal/platform/apiclient"
	"github.com/ehr/clinicdesk/internal/platform/telemetry"
)

// Resource names used in failures, created lists and metrics.
const (
	ResourceMedicalRecord = "medical_record"
	ResourcePrescription  = "prescription"
	ResourceLabOrder      = "lab_order"
	ResourceProcedure     = "procedure"
	ResourceInvoice       = "invoice"
	ResourceQueue         = "queue"
	ResourceAppointment   = "appointment"
)

// Gateway creates records in the hospital system.
type Gateway interface {
	CreateMedicalRecord(ctx context.Context, req apiclient.MedicalRecordRequest) (*apiclient.MedicalRecord, error)
	CreatePrescription(ctx context.Context, req apiclient.PrescriptionRequest) (*apiclient.Prescription, error)
	CreateLabOrder(ctx context.Context, req apiclient.LabOrderRequest) (*apiclient.LabOrder, error)
	CreateProcedure(ctx context.Context, req apiclient.ProcedureRequest) (*apiclient.PatientProcedure, error)
	CreateInvoice(ctx context.Context, req apiclient.InvoiceRequest) (*apiclient.Invoice, error)
	Enqueue(ctx context.Context, req apiclient.QueueEntryRequest) (*apiclient.QueueEntry, error)
	CreateAppointment(ctx context.Context, req apiclient.AppointmentRequest) (*apiclient.Appointment, error)
}

type Config struct {
	// FollowUpOutcome is the encounter outcome that triggers a follow-up
	// appointment.
	FollowUpOutcome string
	// BillingQueue is the wait-list a patient joins after consumables are
	// invoiced.
	BillingQueue string
}

const (
	DefaultFollowUpOutcome = "Follow-up"
	DefaultBillingQueue    = "cashier"
)

type Orchestrator struct {
	gw      Gateway
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func New(gw Gateway, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.FollowUpOutcome == "" {
		cfg.FollowUpOutcome = DefaultFollowUpOutcome
	}
	if cfg.BillingQueue == "" {
		cfg.BillingQueue = DefaultBillingQueue
	}
	return &Orchestrator{
		gw:     gw,
		cfg:    cfg,
		logger: logger.With().Str("component", "submission").Logger(),
	}
}

// SetMetrics attaches optional metrics.
func (o *Orchestrator) SetMetrics(m *telemetry.Metrics) {
	o.metrics = m
}

// tally collects the results of concurrent sub-resource calls.
type tally struct {
	mu       sync.Mutex
	ok       int
	failures []encounter.Failure
	warnings []string
	created  []encounter.Created
	errs     error
}

func (t *tally) success(resource, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ok++
	t.created = append(t.created, encounter.Created{Resource: resource, ID: id})
}

func (t *tally) failure(resource string, index int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, encounter.Failure{Resource: resource, Index: index, Message: apiclient.Message(err)})
	t.errs = multierr.Append(t.errs, fmt.Errorf("%s: %w", resource, err))
}

func (t *tally) warn(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warnings = append(t.warnings, fmt.Sprintf(format, args...))
}

// sideEffect records a best-effort call that succeeded without counting it
// towards the submission totals.
func (t *tally) sideEffect(resource, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.created = append(t.created, encounter.Created{Resource: resource, ID: id})
}

// Submit creates the medical record and then every pending sub-resource of d.
// Persisted lines are never resubmitted. An error is returned only when the
// medical record itself could not be created; sub-resource failures are
// reported in the Outcome and leave the successful calls in place.
func (o *Orchestrator) Submit(ctx context.Context, d encounter.Draft, cat *reference.Catalog) (out *encounter.Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "encounter.submit",
		attribute.String("patient.id", d.PatientID),
		attribute.Int("lines.medications", len(d.Medications)),
		attribute.Int("lines.lab_tests", len(d.LabTests)),
		attribute.Int("lines.procedures", len(d.Procedures)),
		attribute.Int("lines.orders", len(d.Orders)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	log := o.logger.With().Str("patient_id", d.PatientID).Logger()

	record, err := o.gw.CreateMedicalRecord(ctx, medicalRecordRequest(d))
	if err != nil {
		o.metrics.ObserveSubResource(ResourceMedicalRecord, false)
		return nil, fmt.Errorf("create medical record: %w", err)
	}
	o.metrics.ObserveSubResource(ResourceMedicalRecord, true)
	log = log.With().Str("medical_record_id", record.ID).Logger()

	t := &tally{}
	// No group context: one failing call must not cancel its siblings.
	var g errgroup.Group
	g.Go(func() error { o.submitPrescription(ctx, d, record.ID, t); return nil })
	g.Go(func() error { o.submitLabOrders(ctx, d, record.ID, t); return nil })
	g.Go(func() error { o.submitProcedures(ctx, d, record.ID, t); return nil })
	g.Go(func() error { o.submitOrders(ctx, d, record.ID, cat, t); return nil })
	g.Go(func() error { o.scheduleFollowUp(ctx, d, record.ID, t); return nil })
	_ = g.Wait()

	out = &encounter.Outcome{
		MedicalRecordID: record.ID,
		Status:          encounter.StatusSuccess,
		Succeeded:       t.ok,
		Failed:          len(t.failures),
		Failures:        t.failures,
		Warnings:        t.warnings,
		Created:         append([]encounter.Created{{Resource: ResourceMedicalRecord, ID: record.ID}}, t.created...),
	}
	sort.SliceStable(out.Failures, func(i, j int) bool {
		if out.Failures[i].Resource != out.Failures[j].Resource {
			return out.Failures[i].Resource < out.Failures[j].Resource
		}
		return out.Failures[i].Index < out.Failures[j].Index
	})
	sort.Strings(out.Warnings)
	if out.Failed > 0 {
		out.Status = encounter.StatusPartialSuccess
		log.Warn().Err(t.errs).Int("succeeded", out.Succeeded).Int("failed", out.Failed).Msg("encounter partially submitted")
	} else {
		log.Info().Int("succeeded", out.Succeeded).Msg("encounter submitted")
	}
	span.SetAttributes(attribute.String("submission.status", string(out.Status)))
	o.metrics.ObserveSubmission(string(out.Status))
	return out, nil
}

// keyed scopes the idempotency key of one create call to the medical record,
// so the API recognises a replay of the same sub-resource.
func keyed(ctx context.Context, recordID, resource, part string) context.Context {
	return apiclient.WithIdempotencyKey(ctx, recordID+"/"+resource+"/"+part)
}

func medicalRecordRequest(d encounter.Draft) apiclient.MedicalRecordRequest {
	return apiclient.MedicalRecordRequest{
		PatientID:               d.PatientID,
		DoctorID:                d.DoctorID,
		EncounterDate:           d.EncounterDate,
		VisitType:               d.VisitType,
		Department:              d.Department,
		ChiefComplaint:          d.ChiefComplaint,
		Symptoms:                d.Symptoms,
		HistoryOfPresentIllness: d.HistoryOfPresentIllness,
		PhysicalExamination:     d.PhysicalExamination,
		Diagnosis:               d.Diagnosis,
		Treatment:               d.Treatment,
		Outcome:                 d.Outcome,
		Notes:                   d.Notes,
	}
}

// submitPrescription bundles every pending medication into one prescription.
func (o *Orchestrator) submitPrescription(ctx context.Context, d encounter.Draft, recordID string, t *tally) {
	meds, _ := encounter.PendingOnly(d.Medications)
	if len(meds) == 0 {
		return
	}
	req := apiclient.PrescriptionRequest{
		PatientID:       d.PatientID,
		DoctorID:        d.DoctorID,
		MedicalRecordID: recordID,
		Items:           make([]apiclient.PrescriptionItemRequest, 0, len(meds)),
	}
	for _, m := range meds {
		req.Items = append(req.Items, apiclient.PrescriptionItemRequest{
			MedicationID: m.MedicationID,
			Dosage:       m.Dosage,
			Frequency:    m.Frequency,
			Duration:     m.Duration,
			Quantity:     m.Quantity,
			Instructions: m.Instructions,
		})
	}
	rx, err := o.gw.CreatePrescription(keyed(ctx, recordID, ResourcePrescription, "items"), req)
	o.metrics.ObserveSubResource(ResourcePrescription, err == nil)
	if err != nil {
		t.failure(ResourcePrescription, -1, err)
		return
	}
	t.success(ResourcePrescription, rx.ID)
}

type labGroup struct {
	priority encounter.Priority
	tests    []encounter.LabTest
}

// groupByPriority keeps priorities in the order they first appear.
func groupByPriority(tests []encounter.LabTest) []labGroup {
	var groups []labGroup
	pos := make(map[encounter.Priority]int)
	for _, lt := range tests {
		i, ok := pos[lt.Priority]
		if !ok {
			i = len(groups)
			pos[lt.Priority] = i
			groups = append(groups, labGroup{priority: lt.Priority})
		}
		groups[i].tests = append(groups[i].tests, lt)
	}
	return groups
}

// submitLabOrders creates one lab order per priority among the pending tests.
func (o *Orchestrator) submitLabOrders(ctx context.Context, d encounter.Draft, recordID string, t *tally) {
	tests, _ := encounter.PendingOnly(d.LabTests)
	if len(tests) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, grp := range groupByPriority(tests) {
		req := apiclient.LabOrderRequest{
			PatientID:          d.PatientID,
			DoctorID:           d.DoctorID,
			MedicalRecordID:    recordID,
			Priority:           string(grp.priority),
			ClinicalIndication: joinIndications(grp.tests),
			Tests:              make([]apiclient.LabOrderTestRequest, 0, len(grp.tests)),
		}
		for _, lt := range grp.tests {
			req.Tests = append(req.Tests, apiclient.LabOrderTestRequest{
				TestTypeID:         lt.TestTypeID,
				ClinicalIndication: lt.ClinicalIndication,
			})
		}
		wg.Add(1)
		go func(req apiclient.LabOrderRequest) {
			defer wg.Done()
			order, err := o.gw.CreateLabOrder(keyed(ctx, recordID, ResourceLabOrder, req.Priority), req)
			o.metrics.ObserveSubResource(ResourceLabOrder, err == nil)
			if err != nil {
				t.failure(ResourceLabOrder, -1, fmt.Errorf("%s priority: %w", req.Priority, err))
				return
			}
			t.success(ResourceLabOrder, order.ID)
		}(req)
	}
	wg.Wait()
}

func joinIndications(tests []encounter.LabTest) string {
	seen := make(map[string]bool)
	var parts []string
	for _, lt := range tests {
		s := strings.TrimSpace(lt.ClinicalIndication)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// submitProcedures creates each pending procedure concurrently. Every call is
// tried regardless of its siblings.
func (o *Orchestrator) submitProcedures(ctx context.Context, d encounter.Draft, recordID string, t *tally) {
	procs, idx := encounter.PendingOnly(d.Procedures)
	if len(procs) == 0 {
		return
	}
	var wg sync.WaitGroup
	for i, p := range procs {
		req := apiclient.ProcedureRequest{
			PatientID:       d.PatientID,
			DoctorID:        d.DoctorID,
			MedicalRecordID: recordID,
			ProcedureID:     p.ProcedureID,
			ProcedureDate:   d.EncounterDate,
			Notes:           p.Notes,
			Complications:   p.Complications,
		}
		wg.Add(1)
		go func(line int, req apiclient.ProcedureRequest) {
			defer wg.Done()
			created, err := o.gw.CreateProcedure(keyed(ctx, recordID, ResourceProcedure, strconv.Itoa(line)), req)
			o.metrics.ObserveSubResource(ResourceProcedure, err == nil)
			if err != nil {
				t.failure(ResourceProcedure, line, err)
				return
			}
			t.success(ResourceProcedure, created.ID)
		}(idx[i], req)
	}
	wg.Wait()
}

// submitOrders invoices every pending consumable in one invoice, then tries
// to put the patient in the billing queue.
func (o *Orchestrator) submitOrders(ctx context.Context, d encounter.Draft, recordID string, cat *reference.Catalog, t *tally) {
	orders, _ := encounter.PendingOnly(d.Orders)
	if len(orders) == 0 {
		return
	}
	req := apiclient.InvoiceRequest{
		PatientID:       d.PatientID,
		MedicalRecordID: recordID,
		Items:           make([]apiclient.InvoiceItemRequest, 0, len(orders)),
	}
	for _, ord := range orders {
		item := apiclient.InvoiceItemRequest{
			ChargeID:    ord.ChargeID,
			Description: ord.ChargeID,
			Quantity:    ord.Quantity,
			Notes:       ord.Notes,
		}
		if c, ok := cat.Consumable(ord.ChargeID); ok {
			item.Description = c.Name
			item.UnitPrice = c.Price
		} else {
			t.warn("no catalog price for %s; invoiced at zero", ord.ChargeID)
		}
		item.TotalPrice = item.UnitPrice * float64(ord.Quantity)
		req.TotalAmount += item.TotalPrice
		req.Items = append(req.Items, item)
	}

	inv, err := o.gw.CreateInvoice(keyed(ctx, recordID, ResourceInvoice, "consumables"), req)
	o.metrics.ObserveSubResource(ResourceInvoice, err == nil)
	if err != nil {
		t.failure(ResourceInvoice, -1, err)
		return
	}
	t.success(ResourceInvoice, inv.ID)

	entry, err := o.gw.Enqueue(keyed(ctx, recordID, ResourceQueue, inv.ID), apiclient.QueueEntryRequest{
		PatientID: d.PatientID,
		Queue:     o.cfg.BillingQueue,
		InvoiceID: inv.ID,
		Notes:     "consumables invoiced at encounter",
	})
	if err != nil {
		if apiclient.IsConflict(err) {
			t.warn("patient is already in the %s queue", o.cfg.BillingQueue)
			return
		}
		t.warn("could not add patient to the %s queue: %s", o.cfg.BillingQueue, apiclient.Message(err))
		return
	}
	t.sideEffect(ResourceQueue, entry.ID)
}

// scheduleFollowUp books the follow-up appointment when the outcome asks for
// one. Failures only produce warnings; the encounter stays saved.
func (o *Orchestrator) scheduleFollowUp(ctx context.Context, d encounter.Draft, recordID string, t *tally) {
	if !strings.EqualFold(strings.TrimSpace(d.Outcome), o.cfg.FollowUpOutcome) {
		return
	}
	next := d.NextAppointment
	if next.Date == "" || next.Time == "" {
		t.warn("follow-up appointment not booked: date and time are required")
		return
	}
	doctorID := next.DoctorID
	if doctorID == "" {
		doctorID = d.DoctorID
	}
	department := next.Department
	if department == "" {
		department = d.Department
	}
	appt, err := o.gw.CreateAppointment(keyed(ctx, recordID, ResourceAppointment, "follow-up"), apiclient.AppointmentRequest{
		PatientID:  d.PatientID,
		DoctorID:   doctorID,
		Department: department,
		Date:       next.Date,
		Time:       next.Time,
		Reason:     next.Reason,
		Type:       "follow-up",
	})
	if err != nil {
		t.warn("follow-up appointment not booked: %s", apiclient.Message(err))
		return
	}
	t.sideEffect(ResourceAppointment, appt.ID)
}

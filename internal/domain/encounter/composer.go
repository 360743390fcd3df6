package encounter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/clinicdesk/internal/domain/reference"
	"github.com/ehr/clinicdesk/internal/platform/apiclient"
	"github.com/ehr/clinicdesk/internal/platform/telemetry"
)

const persistTimeout = 10 * time.Second

var (
	ErrSubmitting     = errors.New("a submission is in progress")
	ErrUnsavedChanges = errors.New("the encounter has unsaved changes")
	ErrNotEditing     = errors.New("the encounter is not open for editing")
	ErrLoading        = errors.New("the encounter is still loading")
)

// LoadError means the composer could not gather what it needs to open. The
// composer is left closed and Open may be retried.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return "failed to load encounter: " + apiclient.Message(e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SubmitError is a hard submission failure: nothing can be assumed persisted,
// the composer is back in editing and the draft is intact.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return "failed to submit encounter: " + apiclient.Message(e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// DraftStore persists one draft per patient. Implementations are best-effort
// and never fail the caller.
type DraftStore interface {
	Save(ctx context.Context, patientID string, d Draft)
	Load(ctx context.Context, patientID string) (Draft, bool)
	Clear(ctx context.Context, patientID string)
}

type ReferenceData interface {
	LoadAll(ctx context.Context) (*reference.Catalog, error)
	RefreshInventory(ctx context.Context)
	Inventory(medicationID string) (reference.InventoryStatus, bool)
	DefaultDoctor(userID string) (string, bool)
}

// PatientSource reads the patient's clinical background.
type PatientSource interface {
	GetPatient(ctx context.Context, patientID string) (*apiclient.Patient, error)
	ListAllergies(ctx context.Context, patientID string) ([]apiclient.Allergy, error)
	ListVitals(ctx context.Context, patientID string) ([]apiclient.VitalSign, error)
	ListMedicalRecords(ctx context.Context, patientID string) ([]apiclient.MedicalRecord, error)
	ListLabOrders(ctx context.Context, patientID string) ([]apiclient.LabOrder, error)
	ListPrescriptions(ctx context.Context, patientID string) ([]apiclient.Prescription, error)
}

// Submitter turns a draft into hospital records. A returned error is a hard
// failure; partial failures are reported in the Outcome.
type Submitter interface {
	Submit(ctx context.Context, d Draft, cat *reference.Catalog) (*Outcome, error)
}

// Deps are the collaborators shared by every composer.
type Deps struct {
	Drafts    DraftStore
	Reference ReferenceData
	Patients  PatientSource
	Submitter Submitter
	Scheduler Scheduler
	Debounce  time.Duration
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// OpenOptions identify who opens the composer. DoctorID, when set, forces the
// doctor field; otherwise the signed-in user's doctor record fills an empty
// doctor field once per load.
type OpenOptions struct {
	UserID   string `json:"-"`
	DoctorID string `json:"doctorId"`
}

// View is a consistent read of the composer.
type View struct {
	PatientID         string          `json:"patientId"`
	State             State           `json:"state"`
	Draft             *Draft          `json:"draft,omitempty"`
	HasUnsavedChanges bool            `json:"hasUnsavedChanges"`
	Restored          bool            `json:"restored"`
	Patient           *PatientContext `json:"patient,omitempty"`
	LastOutcome       *Outcome        `json:"lastOutcome,omitempty"`
}

// Composer is the encounter form of one patient.
type Composer struct {
	patientID string
	drafts    DraftStore
	ref       ReferenceData
	patients  PatientSource
	submitter Submitter
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	saver     *debouncer

	mu          sync.Mutex
	state       State
	draft       Draft
	restored    bool
	catalog     *reference.Catalog
	patient     *PatientContext
	lastOutcome *Outcome
}

func NewComposer(patientID string, deps Deps) *Composer {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	c := &Composer{
		patientID: patientID,
		drafts:    deps.Drafts,
		ref:       deps.Reference,
		patients:  deps.Patients,
		submitter: deps.Submitter,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "composer").Str("patient_id", patientID).Logger(),
		now:       now,
		state:     StateClosed,
	}
	c.saver = newDebouncer(deps.Scheduler, deps.Debounce, c.persist)
	return c
}

// Open loads the reference catalog and the patient's background, then
// restores the stored draft or starts a blank one. Opening an open composer
// is a no-op.
func (c *Composer) Open(ctx context.Context, opts OpenOptions) error {
	c.mu.Lock()
	switch c.state {
	case StateEditing, StateSubmitting:
		c.mu.Unlock()
		return nil
	case StateLoading:
		c.mu.Unlock()
		return ErrLoading
	}
	c.state = StateLoading
	c.lastOutcome = nil
	c.mu.Unlock()

	cat, pc, err := c.load(ctx)
	var (
		d        Draft
		restored bool
	)
	if err == nil {
		d, restored = c.drafts.Load(ctx, c.patientID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLoading {
		return ErrNotEditing
	}
	if err != nil {
		c.state = StateClosed
		c.logger.Warn().Err(err).Msg("encounter load failed")
		return &LoadError{Err: err}
	}

	now := c.now()
	if !restored {
		d = NewDraft(c.patientID, now)
		d = Prepopulate(d, pc.LabOrders, pc.Prescriptions, now)
	}
	d.PatientID = c.patientID

	switch {
	case opts.DoctorID != "":
		d.DoctorID = opts.DoctorID
	case d.DoctorID == "":
		if id, ok := c.ref.DefaultDoctor(opts.UserID); ok {
			d.DoctorID = id
		}
	}

	c.draft = d
	c.restored = restored
	c.catalog = cat
	c.patient = pc
	c.state = StateEditing
	c.ref.RefreshInventory(ctx)

	c.logger.Info().
		Bool("restored", restored).
		Int("persisted_lines", countPersisted(d)).
		Msg("encounter opened")
	return nil
}

func (c *Composer) load(ctx context.Context) (*reference.Catalog, *PatientContext, error) {
	var (
		cat *reference.Catalog
		pc  = &PatientContext{}
		id  = c.patientID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cat, err = c.ref.LoadAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		if pc.Patient, err = c.patients.GetPatient(gctx, id); err != nil {
			return fmt.Errorf("patient: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if pc.Allergies, err = c.patients.ListAllergies(gctx, id); err != nil {
			return fmt.Errorf("allergies: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if pc.Vitals, err = c.patients.ListVitals(gctx, id); err != nil {
			return fmt.Errorf("vitals: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if pc.History, err = c.patients.ListMedicalRecords(gctx, id); err != nil {
			return fmt.Errorf("medical records: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if pc.LabOrders, err = c.patients.ListLabOrders(gctx, id); err != nil {
			return fmt.Errorf("lab orders: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if pc.Prescriptions, err = c.patients.ListPrescriptions(gctx, id); err != nil {
			return fmt.Errorf("prescriptions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return cat, pc, nil
}

func (c *Composer) PatientID() string { return c.patientID }

func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Draft returns the current draft value.
func (c *Composer) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Composer) HasUnsavedChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateClosed && HasData(c.draft)
}

func (c *Composer) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		PatientID:   c.patientID,
		State:       c.state,
		LastOutcome: c.lastOutcome,
	}
	if c.state == StateEditing || c.state == StateSubmitting {
		d := c.draft
		v.Draft = &d
		v.HasUnsavedChanges = HasData(d)
		v.Restored = c.restored
		v.Patient = c.patient
	}
	return v
}

// mutate applies fn to the draft while editing and schedules a save.
func (c *Composer) mutate(fn func(Draft) (Draft, error)) (Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return c.draft, err
	}
	next, err := fn(c.draft)
	if err != nil {
		return c.draft, err
	}
	c.draft = next
	c.saver.Schedule(next)
	return next, nil
}

func (c *Composer) editable() error {
	switch c.state {
	case StateEditing:
		return nil
	case StateSubmitting:
		return ErrSubmitting
	case StateLoading:
		return ErrLoading
	default:
		return ErrNotEditing
	}
}

func (c *Composer) checker(d Draft) *Checker {
	if c.patient == nil {
		return NewChecker(d, nil, nil)
	}
	return NewChecker(d, c.patient.LabOrders, c.patient.Prescriptions)
}

func (c *Composer) UpdateFields(f Fields) (Draft, error) {
	if err := checkStruct(SectionEncounter, NewLine, f); err != nil {
		return c.Draft(), err
	}
	return c.mutate(func(d Draft) (Draft, error) {
		return ApplyFields(d, f), nil
	})
}

func (c *Composer) SetNextAppointment(a NextAppointment) (Draft, error) {
	if err := checkStruct(SectionNextAppointment, NewLine, a); err != nil {
		return c.Draft(), err
	}
	return c.mutate(func(d Draft) (Draft, error) {
		return SetNextAppointment(d, a), nil
	})
}

func (c *Composer) AddMedication(m Medication) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) {
		if err := c.checkMedication(d, NewLine, m); err != nil {
			return d, err
		}
		return AddMedication(d, m), nil
	})
}

func (c *Composer) UpdateMedication(i int, m Medication) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) {
		if err := c.checkMedication(d, i, m); err != nil {
			return d, err
		}
		return UpdateMedication(d, i, m)
	})
}

func (c *Composer) RemoveMedication(i int) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) { return RemoveMedication(d, i) })
}

func (c *Composer) checkMedication(d Draft, i int, m Medication) error {
	if err := checkStruct(SectionMedications, i, m); err != nil {
		return err
	}
	if c.checker(d).IsMedicationBlocked(m.MedicationID, i) {
		return &ValidationError{
			Section: SectionMedications,
			Index:   i,
			Field:   "medicationId",
			Message: "medication is already on this encounter or awaiting dispensing",
		}
	}
	return nil
}

func (c *Composer) AddLabTest(t LabTest) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) {
		if err := c.checkLabTest(d, NewLine, t); err != nil {
			return d, err
		}
		return AddLabTest(d, t), nil
	})
}

func (c *Composer) UpdateLabTest(i int, t LabTest) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) {
		if err := c.checkLabTest(d, i, t); err != nil {
			return d, err
		}
		return UpdateLabTest(d, i, t)
	})
}

func (c *Composer) RemoveLabTest(i int) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) { return RemoveLabTest(d, i) })
}

func (c *Composer) checkLabTest(d Draft, i int, t LabTest) error {
	if err := checkStruct(SectionLabTests, i, t); err != nil {
		return err
	}
	if c.checker(d).IsLabTestBlocked(t.TestTypeID, i) {
		return &ValidationError{
			Section: SectionLabTests,
			Index:   i,
			Field:   "testTypeId",
			Message: "test is already on this encounter or awaiting results",
		}
	}
	return nil
}

func (c *Composer) AddProcedure(p Procedure) (Draft, error) {
	if err := checkStruct(SectionProcedures, NewLine, p); err != nil {
		return c.Draft(), err
	}
	return c.mutate(func(d Draft) (Draft, error) { return AddProcedure(d, p), nil })
}

func (c *Composer) UpdateProcedure(i int, p Procedure) (Draft, error) {
	if err := checkStruct(SectionProcedures, i, p); err != nil {
		return c.Draft(), err
	}
	return c.mutate(func(d Draft) (Draft, error) { return UpdateProcedure(d, i, p) })
}

func (c *Composer) RemoveProcedure(i int) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) { return RemoveProcedure(d, i) })
}

func (c *Composer) AddOrder(o Order) (Draft, error) {
	if err := checkStruct(SectionOrders, NewLine, o); err != nil {
		return c.Draft(), err
	}
	return c.mutate(func(d Draft) (Draft, error) { return AddOrder(d, o), nil })
}

func (c *Composer) UpdateOrder(i int, o Order) (Draft, error) {
	if err := checkStruct(SectionOrders, i, o); err != nil {
		return c.Draft(), err
	}
	return c.mutate(func(d Draft) (Draft, error) { return UpdateOrder(d, i, o) })
}

func (c *Composer) RemoveOrder(i int) (Draft, error) {
	return c.mutate(func(d Draft) (Draft, error) { return RemoveOrder(d, i) })
}

// MedicationOptions lists the medications selectable for the line at
// editIndex (NewLine when adding).
func (c *Composer) MedicationOptions(editIndex int, tentative string) ([]apiclient.Medication, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return nil, err
	}
	if c.catalog == nil {
		return nil, nil
	}
	return c.checker(c.draft).AvailableMedications(c.catalog.Medications, editIndex, tentative), nil
}

func (c *Composer) LabTestOptions(editIndex int, tentative string) ([]apiclient.TestType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return nil, err
	}
	if c.catalog == nil {
		return nil, nil
	}
	return c.checker(c.draft).AvailableLabTests(c.catalog.TestTypes, editIndex, tentative), nil
}

// Submit validates the draft and hands it to the submitter. On success the
// stored draft is cleared and the composer closes; on a hard failure the
// composer returns to editing with the draft intact.
func (c *Composer) Submit(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	if err := c.editable(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := ValidateForSubmit(c.draft, c.ref.Inventory); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	d, cat := c.draft, c.catalog
	c.state = StateSubmitting
	c.mu.Unlock()

	// the stored copy must be current in case the submission fails
	c.saver.Flush()

	out, err := c.submitter.Submit(ctx, d, cat)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateEditing
		c.logger.Error().Err(err).Msg("encounter submission failed")
		return nil, &SubmitError{Err: err}
	}

	c.saver.CancelThen(func() { c.drafts.Clear(ctx, c.patientID) })
	c.metrics.ObserveDraftWrite("clear")
	c.state = StateClosed
	c.draft = Draft{}
	c.restored = false
	c.lastOutcome = out
	c.ref.RefreshInventory(ctx)

	c.logger.Info().
		Str("status", string(out.Status)).
		Str("medical_record_id", out.MedicalRecordID).
		Int("failed", out.Failed).
		Msg("encounter submitted")
	return out, nil
}

// Close leaves the form. With unsaved changes it needs confirm; the stored
// draft is kept either way. Closing during a submission is refused.
func (c *Composer) Close(confirm bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateSubmitting:
		return ErrSubmitting
	case StateClosed:
		return nil
	case StateLoading:
		c.state = StateClosed
		return nil
	}
	if HasData(c.draft) && !confirm {
		return ErrUnsavedChanges
	}
	c.saver.Flush()
	c.state = StateClosed
	c.draft = Draft{}
	c.restored = false
	return nil
}

// Discard drops the draft from storage and closes the form.
func (c *Composer) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitting {
		return ErrSubmitting
	}
	c.saver.CancelThen(func() { c.drafts.Clear(ctx, c.patientID) })
	c.metrics.ObserveDraftWrite("clear")
	c.state = StateClosed
	c.draft = Draft{}
	c.restored = false
	c.logger.Info().Msg("encounter draft discarded")
	return nil
}

// persist is the debounced write. An empty draft clears the stored entry.
func (c *Composer) persist(d Draft) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if HasData(d) {
		c.drafts.Save(ctx, c.patientID, d)
		c.metrics.ObserveDraftWrite("save")
		return
	}
	c.drafts.Clear(ctx, c.patientID)
	c.metrics.ObserveDraftWrite("clear")
}

func countPersisted(d Draft) int {
	n := 0
	for _, l := range d.Medications {
		if l.IsPersisted() {
			n++
		}
	}
	for _, l := range d.LabTests {
		if l.IsPersisted() {
			n++
		}
	}
	return n
}

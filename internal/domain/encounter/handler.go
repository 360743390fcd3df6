package encounter

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicdesk/internal/domain/reference"
	"github.com/ehr/clinicdesk/internal/platform/auth"
)

type Handler struct {
	reg *Registry
}

func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – physician, nurse
	read := api.Group("/patients/:patientId/encounter", auth.RequireRole("physician", "nurse"))
	read.GET("", h.Get)
	read.GET("/options/medications", h.MedicationOptions)
	read.GET("/options/lab-tests", h.LabTestOptions)
	read.POST("/dosage", h.DosagePreview)

	// Write endpoints – physician, nurse
	write := api.Group("/patients/:patientId/encounter", auth.RequireRole("physician", "nurse"))
	write.POST("", h.Open)
	write.PATCH("", h.UpdateFields)
	write.PUT("/next-appointment", h.SetNextAppointment)
	write.POST("/medications", addLineHandler(h, (*Composer).AddMedication))
	write.PUT("/medications/:index", updateLineHandler(h, (*Composer).UpdateMedication))
	write.DELETE("/medications/:index", removeLineHandler(h, (*Composer).RemoveMedication))
	write.POST("/lab-tests", addLineHandler(h, (*Composer).AddLabTest))
	write.PUT("/lab-tests/:index", updateLineHandler(h, (*Composer).UpdateLabTest))
	write.DELETE("/lab-tests/:index", removeLineHandler(h, (*Composer).RemoveLabTest))
	write.POST("/procedures", addLineHandler(h, (*Composer).AddProcedure))
	write.PUT("/procedures/:index", updateLineHandler(h, (*Composer).UpdateProcedure))
	write.DELETE("/procedures/:index", removeLineHandler(h, (*Composer).RemoveProcedure))
	write.POST("/orders", addLineHandler(h, (*Composer).AddOrder))
	write.PUT("/orders/:index", updateLineHandler(h, (*Composer).UpdateOrder))
	write.DELETE("/orders/:index", removeLineHandler(h, (*Composer).RemoveOrder))
	write.POST("/close", h.Close)
	write.POST("/discard", h.Discard)

	// Submission – physician only
	submit := api.Group("/patients/:patientId/encounter", auth.RequireRole("physician"))
	submit.POST("/submit", h.Submit)
}

func (h *Handler) composer(c echo.Context) (*Composer, error) {
	comp, ok := h.reg.Get(c.Param("patientId"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no open encounter for this patient")
	}
	return comp, nil
}

func (h *Handler) Open(c echo.Context) error {
	var opts OpenOptions
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&opts); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	opts.UserID = auth.UserIDFromContext(c.Request().Context())

	comp := h.reg.Acquire(c.Param("patientId"))
	if err := comp.Open(c.Request().Context(), opts); err != nil {
		h.reg.Release(comp.PatientID())
		return httpError(err)
	}
	return c.JSON(http.StatusOK, comp.View())
}

func (h *Handler) Get(c echo.Context) error {
	comp, err := h.composer(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, comp.View())
}

func (h *Handler) UpdateFields(c echo.Context) error {
	comp, err := h.composer(c)
	if err != nil {
		return err
	}
	var f Fields
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := comp.UpdateFields(f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SetNextAppointment(c echo.Context) error {
	comp, err := h.composer(c)
	if err != nil {
		return err
	}
	var a NextAppointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := comp.SetNextAppointment(a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func addLineHandler[T any](h *Handler, add func(*Composer, T) (Draft, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		comp, err := h.composer(c)
		if err != nil {
			return err
		}
		var data T
		if err := c.Bind(&data); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		d, err := add(comp, data)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusCreated, d)
	}
}

func updateLineHandler[T any](h *Handler, update func(*Composer, int, T) (Draft, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		comp, err := h.composer(c)
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid line index")
		}
		var data T
		if err := c.Bind(&data); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		d, err := update(comp, idx, data)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, d)
	}
}

func removeLineHandler(h *Handler, remove func(*Composer, int) (Draft, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		comp, err := h.composer(c)
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid line index")
		}
		d, err := remove(comp, idx)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, d)
	}
}

// optionParams reads ?edit= (line index, default new line) and ?selected=.
func optionParams(c echo.Context) (int, string, error) {
	edit := NewLine
	if raw := c.QueryParam("edit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, "", echo.NewHTTPError(http.StatusBadRequest, "invalid edit index")
		}
		edit = n
	}
	return edit, c.QueryParam("selected"), nil
}

func (h *Handler) MedicationOptions(c echo.Context) error {
	comp, err := h.composer(c)
	if err != nil {
		return err
	}
	edit, selected, err := optionParams(c)
	if err != nil {
		return err
	}
	opts, err := comp.MedicationOptions(edit, selected)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, opts)
}

func (h *Handler) LabTestOptions(c echo.Context) error {
	comp, err := h.composer(c)
	if err != nil {
		return err
	}
	edit, selected, err := optionParams(c)
	if err != nil {
		return err
	}
	opts, err := comp.LabTestOptions(edit, selected)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, opts)
}

type dosageRequest struct {
	Dosage          string `json:"dosage"`
	Frequency       string `json:"frequency"`
	Duration        string `json:"duration"`
	Quantity        int    `json:"quantity"`
	QuantityTouched bool   `json:"quantityTouched"`
}

type dosageResponse struct {
	Quantity        int  `json:"quantity"`
	QuantityTouched bool `json:"quantityTouched"`
}

// DosagePreview replays a dialog session: a quantity the user typed wins,
// otherwise it is calculated from dosage, frequency and duration.
func (h *Handler) DosagePreview(c echo.Context) error {
	var req dosageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	dlg := NewDosageDialog(Medication{Quantity: req.Quantity})
	if req.QuantityTouched {
		dlg.SetQuantity(req.Quantity)
	}
	dlg.SetDosage(req.Dosage)
	dlg.SetFrequency(req.Frequency)
	dlg.SetDuration(req.Duration)

	return c.JSON(http.StatusOK, dosageResponse{
		Quantity:        dlg.Medication().Quantity,
		QuantityTouched: dlg.QuantityTouched(),
	})
}

func (h *Handler) Submit(c echo.Context) error {
	comp, err := h.composer(c)
	if err != nil {
		return err
	}
	out, err := comp.Submit(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	h.reg.Release(comp.PatientID())
	return c.JSON(http.StatusOK, out)
}

type closeRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *Handler) Close(c echo.Context) error {
	comp, err := h.composer(c)
	if err != nil {
		return err
	}
	var req closeRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if err := comp.Close(req.Confirm); err != nil {
		return httpError(err)
	}
	h.reg.Release(comp.PatientID())
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Discard(c echo.Context) error {
	comp := h.reg.Acquire(c.Param("patientId"))
	if err := comp.Discard(c.Request().Context()); err != nil {
		return httpError(err)
	}
	h.reg.Release(comp.PatientID())
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	var (
		ve  *ValidationError
		le  *LoadError
		se  *SubmitError
		rle *reference.LoadError
	)
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": ve.Message,
			"section": ve.Section,
			"index":   ve.Index,
			"field":   ve.Field,
		})
	case errors.As(err, &le), errors.As(err, &rle):
		return echo.NewHTTPError(http.StatusServiceUnavailable, map[string]interface{}{
			"message":   err.Error(),
			"retryable": true,
		})
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusBadGateway, se.Error())
	case errors.Is(err, ErrSubmitting), errors.Is(err, ErrUnsavedChanges),
		errors.Is(err, ErrNotEditing), errors.Is(err, ErrLoading):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrLineIndex):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func newRequestContext(e *echo.Echo, method, target, body string, actor *Actor) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: actor.ID, Roles: actor.Roles}))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPRejection(t *testing.T, err error, status int, code string) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != status {
		t.Errorf("expected status %d, got %d", status, httpErr.Code)
	}
	rej, ok := httpErr.Message.(*Rejection)
	if !ok {
		t.Fatalf("expected rejection body, got %T", httpErr.Message)
	}
	if rej.Code != code {
		t.Errorf("expected code %s, got %s", code, rej.Code)
	}
}

func TestHandler_GetAvailability(t *testing.T) {
	h, f, e := newTestHandler(t)
	c, rec := newRequestContext(e, http.MethodGet, "/?date="+testMonday, "", nil)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Date                 string `json:"date"`
		ConsultationDuration int    `json:"consultationDuration"`
		Slots                []struct {
			StartTime string `json:"startTime"`
			EndTime   string `json:"endTime"`
			Available bool   `json:"available"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Date != testMonday || body.ConsultationDuration != 30 || len(body.Slots) != 14 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if body.Slots[0].StartTime != "09:00" || body.Slots[0].EndTime != "09:30" || !body.Slots[0].Available {
		t.Errorf("unexpected first slot %+v", body.Slots[0])
	}
}

func TestHandler_GetAvailability_Blocked(t *testing.T) {
	h, f, e := newTestHandler(t)
	if _, err := f.svc.AddBlockedDate(context.Background(), f.doctorActor(), f.doctor.ID, BlockedDate{Date: mustDate(t, testMonday)}); err != nil {
		t.Fatalf("block: %v", err)
	}
	c, rec := newRequestContext(e, http.MethodGet, "/?date="+testMonday, "", nil)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if slots, ok := body["slots"].([]interface{}); !ok || len(slots) != 0 {
		t.Errorf("expected empty slots array, got %v", body["slots"])
	}
	if body["reason"] != "date_blocked" || body["message"] == "" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if _, ok := body["consultationDuration"]; ok {
		t.Error("empty result should not carry a duration")
	}
}

func TestHandler_GetAvailability_BadInput(t *testing.T) {
	h, f, e := newTestHandler(t)

	c, _ := newRequestContext(e, http.MethodGet, "/?date="+testMonday, "", nil)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPRejection(t, h.GetAvailability(c), http.StatusBadRequest, "invalid_doctor")

	c, _ = newRequestContext(e, http.MethodGet, "/", "", nil)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())
	expectHTTPRejection(t, h.GetAvailability(c), http.StatusBadRequest, "missing_fields")

	c, _ = newRequestContext(e, http.MethodGet, "/?date=06-01-2025", "", nil)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())
	expectHTTPRejection(t, h.GetAvailability(c), http.StatusBadRequest, "invalid_format")

	c, _ = newRequestContext(e, http.MethodGet, "/?date="+testMonday, "", nil)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPRejection(t, h.GetAvailability(c), http.StatusNotFound, "doctor_not_found")
}

func bookingBody(f *fixture, start, end string) string {
	b, _ := json.Marshal(f.request(testMonday, start, end))
	return string(b)
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, f, e := newTestHandler(t)
	actor := f.patientActor()
	c, rec := newRequestContext(e, http.MethodPost, "/", bookingBody(f, "09:00", "09:30"), &actor)

	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var body struct {
		Success bool        `json:"success"`
		Booking Appointment `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Booking.Status != StatusScheduled || body.Booking.StartTime.String() != "09:00" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newRequestContext(e, http.MethodPost, "/", bookingBody(f, "09:00", "09:30"), &actor)
	expectHTTPRejection(t, h.CreateAppointment(c), http.StatusConflict, "slot_conflict")
}

func TestHandler_CreateAppointment_Rejections(t *testing.T) {
	h, f, e := newTestHandler(t)
	actor := f.patientActor()

	c, _ := newRequestContext(e, http.MethodPost, "/", `{"doctorId":"`+f.doctor.ID.String()+`"}`, &actor)
	expectHTTPRejection(t, h.CreateAppointment(c), http.StatusBadRequest, "missing_fields")

	c, _ = newRequestContext(e, http.MethodPost, "/", bookingBody(f, "12:00", "12:30"), &actor)
	expectHTTPRejection(t, h.CreateAppointment(c), http.StatusBadRequest, "outside_working_hours")

	c, _ = newRequestContext(e, http.MethodPost, "/", `{not json`, &actor)
	expectHTTPRejection(t, h.CreateAppointment(c), http.StatusBadRequest, "invalid_format")

	c, _ = newRequestContext(e, http.MethodPost, "/", bookingBody(f, "09:00", "09:30"), nil)
	err := h.CreateAppointment(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %v", err)
	}
}

func TestHandler_UpdateAppointment(t *testing.T) {
	h, f, e := newTestHandler(t)
	a := f.book(t, "09:00", "09:30")
	doctor := f.doctorActor()

	c, rec := newRequestContext(e, http.MethodPatch, "/", `{"status":"confirmed"}`, &doctor)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.UpdateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"confirmed"`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	patient := f.patientActor()
	c, _ = newRequestContext(e, http.MethodPatch, "/", `{"status":"completed"}`, &patient)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectHTTPRejection(t, h.UpdateAppointment(c), http.StatusForbidden, "forbidden")

	c, _ = newRequestContext(e, http.MethodPatch, "/", `{"status":"completed"}`, &doctor)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectHTTPRejection(t, h.UpdateAppointment(c), http.StatusConflict, "invalid_transition")
}

func TestHandler_GetAppointment(t *testing.T) {
	h, f, e := newTestHandler(t)
	a := f.book(t, "09:00", "09:30")
	patient := f.patientActor()

	c, rec := newRequestContext(e, http.MethodGet, "/", "", &patient)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.GetAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newRequestContext(e, http.MethodGet, "/", "", &patient)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPRejection(t, h.GetAppointment(c), http.StatusNotFound, "appointment_not_found")
}

func TestHandler_ListAppointments(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.book(t, "09:00", "09:30")
	f.book(t, "10:00", "10:30")
	patient := f.patientActor()

	c, rec := newRequestContext(e, http.MethodGet, "/?limit=1&status=scheduled&date="+testMonday, "", &patient)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"hasMore"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 || len(body.Data) != 1 || !body.HasMore {
		t.Errorf("unexpected page %s", rec.Body.String())
	}

	c, rec = newRequestContext(e, http.MethodGet, "/?status=cancelled", "", &patient)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", rec.Body.String())
	}

	c, _ = newRequestContext(e, http.MethodGet, "/?status=bogus", "", &patient)
	expectHTTPRejection(t, h.ListAppointments(c), http.StatusBadRequest, "invalid_status")
}

func TestHandler_DeleteAppointment(t *testing.T) {
	h, f, e := newTestHandler(t)
	a := f.book(t, "09:00", "09:30")
	admin := adminActor()

	c, rec := newRequestContext(e, http.MethodDelete, "/", "", &admin)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.DeleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_Schedule(t *testing.T) {
	h, f, e := newTestHandler(t)
	doctor := f.doctorActor()

	c, rec := newRequestContext(e, http.MethodGet, "/", "", nil)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())
	if err := h.GetSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"isDefault":true`) {
		t.Errorf("expected default schedule, got %s", rec.Body.String())
	}

	body := `{"consultationDuration":60,"allowBookingDaysInAdvanceMax":14,"minAdvanceBookingHours":4,
		"weeklySchedule":[{"dayOfWeek":1,"isAvailable":true,"timeSlots":[{"startTime":"08:00","endTime":"12:00"}]}]}`
	c, rec = newRequestContext(e, http.MethodPut, "/", body, &doctor)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())
	if err := h.PutSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	day, err := f.svc.GetAvailability(context.Background(), f.doctor.ID, mustDate(t, testMonday))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if got := slotStarts(day.Slots); len(got) != 4 || got[0] != "08:00" {
		t.Errorf("expected four hourly slots from 08:00, got %v", got)
	}

	bad := `{"consultationDuration":30,"allowBookingDaysInAdvanceMax":14,"minAdvanceBookingHours":4,
		"weeklySchedule":[{"dayOfWeek":1,"isAvailable":true,"timeSlots":[{"startTime":"08:00","endTime":"12:00"},{"startTime":"11:00","endTime":"13:00"}]}]}`
	c, _ = newRequestContext(e, http.MethodPut, "/", bad, &doctor)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())
	expectHTTPRejection(t, h.PutSchedule(c), http.StatusBadRequest, "invalid_schedule")
}

func TestHandler_BlockedDates(t *testing.T) {
	h, f, e := newTestHandler(t)
	doctor := f.doctorActor()

	c, rec := newRequestContext(e, http.MethodPost, "/", `{"date":"`+testMonday+`","reason":"congreso"}`, &doctor)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())
	if err := h.AddBlockedDate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"reason":"congreso"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newRequestContext(e, http.MethodDelete, "/", "", &doctor)
	c.SetParamNames("id", "date")
	c.SetParamValues(f.doctor.ID.String(), testMonday)
	if err := h.RemoveBlockedDate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ = newRequestContext(e, http.MethodDelete, "/", "", &doctor)
	c.SetParamNames("id", "date")
	c.SetParamValues(f.doctor.ID.String(), "mañana")
	expectHTTPRejection(t, h.RemoveBlockedDate(c), http.StatusBadRequest, "invalid_format")
}

func TestHandler_InternalErrorsAreOpaque(t *testing.T) {
	err := httpError(errTest)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if httpErr.Message != "internal server error" || httpErr.Internal != errTest {
		t.Errorf("unexpected error %+v", httpErr)
	}
}

var errTest = errors.New("db down")

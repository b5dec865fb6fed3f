package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrInvalidID  = errors.New("invalid id")
)

// BadRequestError wraps malformed request bodies and parameters.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string { return "bad request: " + e.Err.Error() }

func (e *BadRequestError) Unwrap() error { return e.Err }

// Mapping assigns an HTTP status to errors matching Target.
type Mapping struct {
	Target    error
	Status    int
	Title     string
	Retryable bool
}

var ledgerMappings = []Mapping{
	{Target: accounting.ErrDuplicateReference, Status: http.StatusConflict, Title: "Duplicate Reference", Retryable: true},
	{Target: db.ErrConflict, Status: http.StatusConflict, Title: "Concurrent Update", Retryable: true},
	{Target: accounting.ErrUnbalanced, Status: http.StatusUnprocessableEntity, Title: "Unbalanced Entry"},
	{Target: accounting.ErrPeriodLocked, Status: http.StatusConflict, Title: "Period Locked"},
	{Target: accounting.ErrPeriodNotFound, Status: http.StatusUnprocessableEntity, Title: "Period Not Found"},
	{Target: accounting.ErrAccountNotFound, Status: http.StatusUnprocessableEntity, Title: "Account Not Found"},
	{Target: accounting.ErrAccountInactive, Status: http.StatusUnprocessableEntity, Title: "Account Inactive"},
	{Target: accounting.ErrInvalidStatus, Status: http.StatusConflict, Title: "Invalid Status"},
	{Target: accounting.ErrJournalNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: accounting.ErrRuleNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

// RespondError maps domain errors to HTTP responses using RFC7807. Package
// specific mappings are consulted before the ledger defaults.
func RespondError(w http.ResponseWriter, err error, extra ...Mapping) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		WriteProblem(w, ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: err.Error(), Fields: fields})
		return
	}
	var bad *BadRequestError
	if errors.As(err, &bad) {
		Problem(w, http.StatusBadRequest, "Bad Request", bad.Err.Error())
		return
	}
	for _, group := range [][]Mapping{extra, ledgerMappings} {
		for _, m := range group {
			if errors.Is(err, m.Target) {
				WriteProblem(w, ProblemDetail{Title: m.Title, Status: m.Status, Detail: err.Error(), Retryable: m.Retryable})
				return
			}
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

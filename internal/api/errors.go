package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/edgard/botdeck/internal/errors"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string        `json:"error"`
	Details []fieldDetail `json:"details,omitempty"`
}

type fieldDetail struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// bind decodes the JSON body into req and validates it. It writes the 400
// response itself and returns false on failure.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(c, apperrors.NewValidationError("invalid data", err), "invalid data")
		return false
	}
	return true
}

// respondError maps err to a status code. Internal details are only logged.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	ctx := c.Request.Context()

	switch apperrors.Code(err) {
	case apperrors.CodeValidation:
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   apperrors.Message(err, "invalid data"),
			Details: validationDetails(err),
		})
	case apperrors.CodeNotFound:
		c.JSON(http.StatusNotFound, errorResponse{Error: apperrors.Message(err, "not found")})
	case apperrors.CodeConflict:
		c.JSON(http.StatusConflict, errorResponse{Error: apperrors.Message(err, "conflict")})
	default:
		h.logger.ErrorContext(ctx, "Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fallback})
	}
}

func validationDetails(err error) []fieldDetail {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	details := make([]fieldDetail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldDetail{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return details
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, errorResponse{Error: what + " not found"})
}

package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondJSON writes v as a JSON body.
func (cs *CompanionServer) respondJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		cs.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// respondWithValidationError sends a structured validation error response
func (cs *CompanionServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	cs.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	cs.respondJSON(w, ValidationResult{
		Valid:  false,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (cs *CompanionServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := cs.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	cs.respondJSON(w, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// validateItemID validates an item identifier from query or body.
func validateItemID(itemID string) *ValidationError {
	if itemID == "" {
		return &ValidationError{
			Field:   "item",
			Message: "Item ID is required",
			Code:    "MISSING_ITEM_ID",
		}
	}

	if len(itemID) > 255 {
		return &ValidationError{
			Field:   "item",
			Message: "Item ID too long (max 255 characters)",
			Code:    "ITEM_ID_TOO_LONG",
		}
	}

	if strings.Contains(itemID, "\x00") {
		return &ValidationError{
			Field:   "item",
			Message: "Item ID contains invalid characters",
			Code:    "INVALID_ITEM_ID_CHARACTERS",
		}
	}

	return nil
}

// validateFilename validates a filename from query or body.
func validateFilename(filename string) *ValidationError {
	if filename == "" {
		return &ValidationError{
			Field:   "filename",
			Message: "Filename is required",
			Code:    "MISSING_FILENAME",
		}
	}

	if len(filename) > 512 {
		return &ValidationError{
			Field:   "filename",
			Message: "Filename too long (max 512 characters)",
			Code:    "FILENAME_TOO_LONG",
		}
	}

	if strings.Contains(filename, "\x00") {
		return &ValidationError{
			Field:   "filename",
			Message: "Filename contains invalid characters",
			Code:    "INVALID_FILENAME_CHARACTERS",
		}
	}

	return nil
}

// validatePosition rejects positions that are negative or not finite.
func validatePosition(position float64) *ValidationError {
	if math.IsNaN(position) || math.IsInf(position, 0) || position < 0 {
		return &ValidationError{
			Field:   "position",
			Message: "Position must be a non-negative number of seconds",
			Code:    "INVALID_POSITION",
		}
	}
	return nil
}

// validateDuration rejects durations that are not positive and finite. A
// record saved with a bad duration could never complete, so it is refused
// at the boundary.
func validateDuration(duration float64) *ValidationError {
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return &ValidationError{
			Field:   "duration",
			Message: "Duration must be a positive number of seconds",
			Code:    "INVALID_DURATION",
		}
	}
	return nil
}

// validateLimit parses an optional limit query parameter.
func validateLimit(raw string) (int, *ValidationError) {
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, &ValidationError{
			Field:   "limit",
			Message: "Limit must be a positive integer",
			Code:    "INVALID_LIMIT",
		}
	}

	return limit, nil
}

// validateURL validates subtitle import and image URLs.
func validateURL(urlStr string) *ValidationError {
	if urlStr == "" {
		return &ValidationError{
			Field:   "url",
			Message: "URL is required",
			Code:    "MISSING_URL",
		}
	}

	if len(urlStr) > 2048 {
		return &ValidationError{
			Field:   "url",
			Message: "URL too long (max 2048 characters)",
			Code:    "URL_TOO_LONG",
		}
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return &ValidationError{
			Field:   "url",
			Message: "Invalid URL format",
			Code:    "INVALID_URL_FORMAT",
		}
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{
			Field:   "url",
			Message: "URL must use HTTP or HTTPS protocol",
			Code:    "INVALID_URL_PROTOCOL",
		}
	}

	return nil
}

// sanitizeInput sanitizes user input before it reaches storage.
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	return input
}

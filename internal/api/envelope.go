package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Response is the standard JSON envelope every endpoint returns.
type Response struct {
	Result  interface{} `json:"result"`
	Success bool        `json:"success"`
	Errors  []APIError  `json:"errors"`
}

// APIError is a single error in a response envelope.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResultInfo carries pagination metadata for list endpoints.
type ResultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages,omitempty"`
}

// SuccessResponse builds a successful response envelope.
func SuccessResponse(result interface{}) Response {
	return Response{
		Result:  result,
		Success: true,
		Errors:  []APIError{},
	}
}

// ErrorResponse builds an error response envelope.
func ErrorResponse(code int, message string) Response {
	return Response{
		Result:  nil,
		Success: false,
		Errors: []APIError{
			{Code: code, Message: message},
		},
	}
}

// PaginatedResponse builds a successful response that includes result_info
// for pagination.
func PaginatedResponse(result interface{}, info ResultInfo) map[string]interface{} {
	return map[string]interface{}{
		"result":      result,
		"success":     true,
		"errors":      []APIError{},
		"result_info": info,
	}
}

// WriteJSON serialises resp as JSON and writes it to w with the given HTTP
// status code.
func WriteJSON(w http.ResponseWriter, status int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

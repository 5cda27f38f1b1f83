package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"yieldcredit/core"
	"yieldcredit/crypto"
)

const requestLimit = 1 << 20 // 1 MiB

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// statusFor maps a protocol error to its HTTP status by class.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	switch core.Classify(err) {
	case core.ClassValidation:
		return http.StatusBadRequest
	case core.ClassAuthorization:
		return http.StatusForbidden
	case core.ClassState:
		return http.StatusConflict
	case core.ClassCapacity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if !errors.Is(err, errBadRequest) {
		body.Class = core.Classify(err).String()
	}
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
		body.Error = http.StatusText(status)
	}
	h.logger.Log(r.Context(), level, "request failed", "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, body)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, badRequest("%s: invalid amount %q", field, raw)
	}
	return v, nil
}

func parseIndex(raw string) (uint64, error) {
	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("index: %v", err)
	}
	return index, nil
}

func urlAddress(r *http.Request, param string) (common.Address, error) {
	return parseAddress(param, chi.URLParam(r, param))
}

// urlToken resolves {token} given as a symbol or a hex address.
func (h *handlers) urlToken(r *http.Request) (common.Address, error) {
	raw := chi.URLParam(r, "token")
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw), nil
	}
	token, ok := h.svc.Token(raw)
	if !ok {
		return common.Address{}, badRequest("unknown token %q", raw)
	}
	return token, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

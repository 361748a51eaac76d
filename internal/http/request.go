package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"coffer/internal/core"
)

// principalHeader carries the caller identity. A fronting gateway is
// expected to authenticate the caller and assert this header; the
// service itself treats it as trusted input.
const principalHeader = "X-Coffer-Principal"

// maxBodyBytes caps operation request bodies. Amounts and principals
// are tiny, anything larger is abuse.
const maxBodyBytes = 64 << 10

var errBadRequestBody = errors.New("malformed request body")

// callerPrincipal extracts the asserted caller identity from the request.
func callerPrincipal(r *http.Request) core.Principal {
	return core.Principal(strings.TrimSpace(r.Header.Get(principalHeader)))
}

type amountRequest struct {
	Amount amountField `json:"amount"`
}

type inboundTransferRequest struct {
	Sender string      `json:"sender"`
	Amount amountField `json:"amount"`
}

// amountField captures the raw amount token. Validation happens in
// ParseAmount, so a non-numeric string reads as a malformed amount
// rather than a malformed body.
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = amountField(s)
		return nil
	}
	*a = amountField(data)
	return nil
}

func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequestBody)
		}
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return nil
}

// decodeAmountRequest reads an operation body and parses its amount.
// Amounts must be unsigned decimal digits; JSON integers are accepted
// for convenience, everything else maps to the malformed amount error.
func decodeAmountRequest(r *http.Request) (int64, error) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, err
	}
	return core.ParseAmount(string(req.Amount))
}

// decodeInboundTransfer reads an inbound transfer body carrying the
// original sender alongside the amount.
func decodeInboundTransfer(r *http.Request) (core.Principal, int64, error) {
	var req inboundTransferRequest
	if err := decodeBody(r, &req); err != nil {
		return "", 0, err
	}
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		return "", 0, err
	}
	return core.Principal(strings.TrimSpace(req.Sender)), amount, nil
}

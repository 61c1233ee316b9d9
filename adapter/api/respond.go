package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/felixgeelhaar/scholaris/internal/billing/application"
	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
	"github.com/felixgeelhaar/scholaris/internal/billing/infrastructure/stripegw"
	"github.com/felixgeelhaar/scholaris/internal/integrity"
	"github.com/felixgeelhaar/scholaris/internal/ratelimit"
	"github.com/felixgeelhaar/scholaris/internal/reauth"
)

const maxBodyBytes = 1 << 20

// bufferBody reads the request body and re-buffers it so the handler can
// read it again. Integrity verification runs over these exact bytes.
func bufferBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// signedResponse is the envelope for signed success responses. The
// signature covers the raw bytes of Data; Security repeats the
// X-Transaction-* headers for clients that only see the body.
type signedResponse struct {
	Data     json.RawMessage  `json:"data"`
	Security securityMetadata `json:"security"`
}

type securityMetadata struct {
	TransactionID string `json:"transaction_id"`
	Timestamp     string `json:"timestamp"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	Algorithm     string `json:"algorithm"`
}

// signingWriter buffers the handler's output so the whole payload can be
// signed before anything reaches the wire.
type signingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *signingWriter) WriteHeader(status int) { w.status = status }

func (w *signingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.buf.Write(p)
}

// responseSigning signs every success response from a billing endpoint.
// Error responses pass through unsigned.
func responseSigning(signer *integrity.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &signingWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			if status >= 400 || sw.buf.Len() == 0 {
				w.WriteHeader(status)
				_, _ = w.Write(sw.buf.Bytes())
				return
			}

			// Trim the encoder's trailing newline so the signed bytes are
			// exactly what the envelope embeds.
			payload := bytes.TrimSpace(sw.buf.Bytes())
			txn := signer.Sign(payload)

			w.Header().Set("X-Transaction-Id", txn.ID)
			w.Header().Set(headerTxnTimestamp, txn.Timestamp)
			w.Header().Set(headerTxnNonce, txn.Nonce)
			w.Header().Set(headerTxnSignature, txn.Signature)
			w.Header().Set("X-Signature-Algorithm", txn.Algorithm)

			body, err := json.Marshal(signedResponse{
				Data: payload,
				Security: securityMetadata{
					TransactionID: txn.ID,
					Timestamp:     txn.Timestamp,
					Nonce:         txn.Nonce,
					Signature:     txn.Signature,
					Algorithm:     txn.Algorithm,
				},
			})
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(status)
			_, _ = w.Write(body)
		})
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError maps an error to its fixed externally visible status and kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	message := err.Error()
	if status >= 500 {
		// Internal detail stays in the logs.
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, integrity.ErrMissingFields):
		return http.StatusBadRequest, "integrity:missing-fields"
	case errors.Is(err, integrity.ErrStaleTimestamp):
		return http.StatusUnauthorized, "integrity:stale-timestamp"
	case errors.Is(err, integrity.ErrSignatureMismatch):
		return http.StatusUnauthorized, "integrity:signature-mismatch"
	case errors.Is(err, integrity.ErrNonceReused):
		return http.StatusConflict, "integrity:nonce-reused"
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests, "rate-limit:exceeded"
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized, "auth:missing-identity"
	case errors.Is(err, reauth.ErrRequired):
		return http.StatusUnauthorized, "reauth:required"
	case errors.Is(err, reauth.ErrExpired):
		return http.StatusUnauthorized, "reauth:expired"
	case errors.Is(err, reauth.ErrInvalid):
		return http.StatusForbidden, "reauth:invalid"
	case errors.Is(err, domain.ErrWebhookSignature):
		return http.StatusBadRequest, "webhook:signature"
	case errors.Is(err, application.ErrInvalidPlan):
		return http.StatusBadRequest, "billing:invalid-plan"
	case errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrPaymentMethodNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "billing:not-found"
	case errors.Is(err, domain.ErrActiveSubscriptionExists):
		return http.StatusConflict, "billing:subscription-exists"
	case errors.Is(err, domain.ErrSubscriptionTerminal):
		return http.StatusConflict, "billing:subscription-expired"
	case errors.Is(err, stripegw.ErrProcessorUnavailable):
		return http.StatusServiceUnavailable, "processor:unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

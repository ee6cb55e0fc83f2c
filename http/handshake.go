package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/encoding"
	"github.com/Gate402/gate-fe-sub000/validation"
	"go.uber.org/zap"
)

// maxDiagnosticBody bounds how much of an error response body is kept.
const maxDiagnosticBody = 64 << 10

// networkHint is appended to transport failures; a browser-style
// cross-origin block surfaces exactly like an unreachable host.
const networkHint = "no response received (unreachable host, TLS failure or cross-origin block)"

// Step is one entry of the handshake log.
type Step struct {
	State   x402.HandshakeState
	At      time.Time
	Message string
}

// Result is the outcome of one handshake.
type Result struct {
	// State is Settled on success and Failed otherwise.
	State x402.HandshakeState

	// Response is the paid response on success. Its body must be closed.
	Response *http.Response

	// Required is the decoded PAYMENT-REQUIRED document, if one was received.
	Required *x402.PaymentRequired

	// Requirement is the selected payment option.
	Requirement *x402.PaymentRequirement

	// Payment is the proof sent with the retry.
	Payment *x402.PaymentPayload

	// Settlement is the decoded PAYMENT-RESPONSE, if present and valid.
	Settlement *x402.SettleResponse

	// SettlementErr explains a missing or undecodable settlement header.
	// It is a warning: the payment was accepted.
	SettlementErr error

	// Steps is the per-step log in order.
	Steps []Step
}

// handshake holds the state of a single Execute call.
type handshake struct {
	c      *Client
	ctx    context.Context
	req    *http.Request
	body   []byte
	start  time.Time
	logger *zap.Logger
	result *Result

	// passthrough returns non-402 initial responses and non-200 paid
	// responses as-is instead of failing, for X402Transport.
	passthrough bool
}

func (c *Client) newHandshake(ctx context.Context, req *http.Request, passthrough bool) (*handshake, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
	}

	return &handshake{
		c:           c,
		ctx:         ctx,
		req:         req,
		body:        body,
		start:       time.Now(),
		logger:      c.logger.With(zap.String("method", req.Method), zap.String("url", req.URL.String())),
		result:      &Result{State: x402.StateIdle},
		passthrough: passthrough,
	}, nil
}

func (h *handshake) run() (*Result, error) {
	// Steps 1-2: unpaid request.
	h.advance(x402.EventRequestSent, "sending unpaid request")
	resp, cancel, err := h.send(nil)
	if err != nil {
		return h.fail(h.networkError(err))
	}

	// Step 3: anything but 402 is not a payment challenge.
	if resp.StatusCode != http.StatusPaymentRequired {
		if h.passthrough {
			h.logger.Debug("response is not payment-gated", zap.Int("status", resp.StatusCode))
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			h.result.Response = resp
			return h.result, nil
		}
		body := drain(resp, cancel)
		return h.fail(x402.NewPaymentError(x402.ErrCodeUnexpectedStatus,
			fmt.Sprintf("expected 402 Payment Required, got %d", resp.StatusCode), x402.ErrUnexpectedStatus).
			WithResponse(resp.StatusCode, body))
	}

	// Step 4: decode the requirement header.
	raw := resp.Header.Get(x402.HeaderPaymentRequired)
	drain(resp, cancel)
	if raw == "" {
		return h.fail(x402.NewPaymentError(x402.ErrCodeMissingRequirementHeader,
			"402 response has no "+x402.HeaderPaymentRequired+" header", x402.ErrMissingRequirementHeader).
			WithResponse(resp.StatusCode, nil))
	}
	required, err := encoding.DecodeRequired(raw)
	if err != nil {
		return h.fail(err)
	}
	h.result.Required = &required
	if err := validation.ValidateVersion(required.X402Version); err != nil {
		return h.fail(x402.NewPaymentError(x402.ErrCodeMalformedHeader,
			"unsupported "+x402.HeaderPaymentRequired+" version",
			fmt.Errorf("%w: %w", x402.ErrMalformedHeader, err)))
	}
	h.advance(x402.EventRequirementsDecoded, fmt.Sprintf("received %d payment option(s) for %s", len(required.Accepts), required.Resource.URL))

	// Step 5: select and sign.
	requirement, signer, err := h.c.selector.Select(required.Accepts, h.c.signers)
	if err != nil {
		return h.fail(err)
	}
	h.result.Requirement = &requirement
	h.logger.Debug("payment option selected",
		zap.String("network", requirement.Network),
		zap.String("asset", requirement.Asset),
		zap.String("amount", requirement.Amount),
		zap.String("payTo", requirement.PayTo),
		zap.String("payer", signer.Address()))

	payment, err := h.sign(signer, &requirement)
	if err != nil {
		return h.fail(err)
	}
	payment.Resource = &required.Resource
	h.result.Payment = payment
	h.advance(x402.EventProofSigned, fmt.Sprintf("signed %s %s on %s as %s", requirement.Amount, requirement.Asset, requirement.Network, signer.Address()))

	// Step 6: retry with the proof.
	header, err := encoding.EncodePayment(*payment)
	if err != nil {
		return h.fail(x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to encode payment", err))
	}
	h.emit(x402.PaymentEventAttempt, nil)
	h.advance(x402.EventRetrySent, "retrying with "+x402.HeaderPaymentSignature)

	resp, cancel, err = h.send(map[string]string{x402.HeaderPaymentSignature: header})
	if err != nil {
		return h.fail(h.networkError(err))
	}

	// Step 8: anything but 200 is a rejection.
	if resp.StatusCode != http.StatusOK {
		if h.passthrough {
			h.logger.Warn("paid request rejected", zap.Int("status", resp.StatusCode))
			h.advance(x402.EventFailed, fmt.Sprintf("paid request answered with %d", resp.StatusCode))
			h.emit(x402.PaymentEventFailure, fmt.Errorf("%w: status %d", x402.ErrPaymentRejected, resp.StatusCode))
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			h.result.Response = resp
			return h.result, nil
		}
		body := drain(resp, cancel)
		return h.fail(x402.NewPaymentError(x402.ErrCodePaymentRejected,
			fmt.Sprintf("paid request answered with %d", resp.StatusCode), x402.ErrPaymentRejected).
			WithResponse(resp.StatusCode, body))
	}

	// Step 7: paid. The settlement header is optional.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	if err := h.settle(resp); err != nil {
		resp.Body.Close()
		return h.fail(err)
	}

	h.result.Response = resp
	h.advance(x402.EventPaid, "payment accepted")
	h.emit(x402.PaymentEventSuccess, nil)
	return h.result, nil
}

// send issues the request with its buffered body and extra headers.
// On success the caller owns cancel and must call it once the body is consumed.
func (h *handshake) send(extra map[string]string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := h.ctx, context.CancelFunc(func() {})
	if h.c.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(h.ctx, h.c.requestTimeout)
	}

	req := h.req.Clone(ctx)
	if h.body != nil {
		req.Body = io.NopCloser(bytes.NewReader(h.body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(h.body)), nil
		}
		req.ContentLength = int64(len(h.body))
	} else {
		req.Body = nil
		req.GetBody = nil
		req.ContentLength = 0
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := h.c.transport.RoundTrip(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	h.logger.Debug("response received", zap.Int("status", resp.StatusCode))
	return resp, cancel, nil
}

func (h *handshake) sign(signer x402.Signer, requirement *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	ctx, cancel := h.ctx, context.CancelFunc(func() {})
	if h.c.signingTimeout > 0 {
		ctx, cancel = context.WithTimeout(h.ctx, h.c.signingTimeout)
	}
	defer cancel()

	payment, err := signer.Sign(ctx, requirement)
	if err == nil && payment == nil {
		err = fmt.Errorf("signer returned no payment")
	}
	if err == nil {
		return payment, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && h.ctx.Err() == nil:
		return nil, x402.NewPaymentError(x402.ErrCodeSignerUnavailable,
			fmt.Sprintf("signing timed out after %s", h.c.signingTimeout), fmt.Errorf("%w: %w", x402.ErrSignerUnavailable, err))
	case h.ctx.Err() != nil:
		return nil, x402.NewPaymentError(x402.ErrCodeSignerUnavailable,
			"signing abandoned", fmt.Errorf("%w: %w", x402.ErrSignerUnavailable, h.ctx.Err()))
	}

	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		return nil, err
	}
	code := x402.Classify(err)
	return nil, x402.NewPaymentError(code, "failed to sign payment", err)
}

// settle records the settlement receipt of a paid response.
func (h *handshake) settle(resp *http.Response) error {
	raw := resp.Header.Get(x402.HeaderPaymentResponse)
	if raw == "" {
		h.result.SettlementErr = fmt.Errorf("%w: no %s header, settlement pending", x402.ErrSettlementMissing, x402.HeaderPaymentResponse)
	} else if settlement, err := decodeSettlement(raw); err != nil {
		h.result.SettlementErr = fmt.Errorf("%w: %w", x402.ErrSettlementMissing, err)
	} else {
		h.result.Settlement = settlement
		if !settlement.Success {
			h.logger.Warn("paid response carries an unsuccessful settlement", zap.String("reason", settlement.ErrorReason))
		}
		h.logger.Debug("settlement received",
			zap.String("transaction", settlement.Transaction),
			zap.String("network", settlement.Network),
			zap.String("payer", settlement.Payer))
		return nil
	}

	if h.c.strictSettlement {
		return x402.NewPaymentError(x402.ErrCodeSettlementMissing, "paid response has no usable settlement receipt", h.result.SettlementErr)
	}
	h.logger.Warn("payment accepted without a settlement receipt", zap.Error(h.result.SettlementErr))
	return nil
}

func (h *handshake) networkError(err error) *x402.PaymentError {
	msg := networkHint
	if errors.Is(err, context.DeadlineExceeded) && h.ctx.Err() == nil {
		msg = fmt.Sprintf("request timed out after %s", h.c.requestTimeout)
	}
	return x402.NewPaymentError(x402.ErrCodeNetwork, msg, fmt.Errorf("%w: %w", x402.ErrNetwork, err))
}

// advance applies event to the state machine and logs the step.
func (h *handshake) advance(event x402.HandshakeEvent, message string) {
	next, err := x402.Next(h.result.State, event)
	if err != nil {
		h.logger.DPanic("illegal handshake transition", zap.Error(err))
		return
	}
	h.result.State = next
	h.result.Steps = append(h.result.Steps, Step{State: next, At: time.Now(), Message: message})
	h.logger.Debug(message, zap.Stringer("state", next))
}

// fail moves the handshake to Failed and returns err as a *x402.PaymentError
// tagged with the step that failed.
func (h *handshake) fail(err error) (*Result, error) {
	step := h.result.State

	var pe *x402.PaymentError
	if !errors.As(err, &pe) || pe != err {
		pe = x402.NewPaymentError(x402.Classify(err), err.Error(), err)
	}
	pe.WithStep(step)

	h.advance(x402.EventFailed, pe.Error())
	h.logger.Warn("handshake failed",
		zap.String("code", string(pe.Code)),
		zap.Stringer("step", step),
		zap.Int("status", pe.StatusCode),
		zap.Error(pe.Err))

	if h.result.Required != nil {
		h.emit(x402.PaymentEventFailure, pe)
	}
	return h.result, pe
}

func (h *handshake) emit(eventType x402.PaymentEventType, err error) {
	var cb x402.PaymentCallback
	switch eventType {
	case x402.PaymentEventAttempt:
		cb = h.c.onAttempt
	case x402.PaymentEventSuccess:
		cb = h.c.onSuccess
	case x402.PaymentEventFailure:
		cb = h.c.onFailure
	}
	if cb == nil {
		return
	}

	event := x402.PaymentEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Method:    "HTTP",
		URL:       h.req.URL.String(),
		Error:     err,
		Duration:  time.Since(h.start),
	}
	if r := h.result.Requirement; r != nil {
		event.Amount = r.Amount
		event.Asset = r.Asset
		event.Network = r.Network
		event.Scheme = r.Scheme
		event.Recipient = r.PayTo
	}
	if s := h.result.Settlement; s != nil {
		event.Payer = s.Payer
		event.Transaction = s.Transaction
	}
	cb(event)
}

// drain reads a bounded prefix of resp's body, closes it and releases its context.
func drain(resp *http.Response, cancel context.CancelFunc) []byte {
	defer cancel()
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
	return body
}

func decodeSettlement(raw string) (*x402.SettleResponse, error) {
	settlement, err := encoding.DecodeSettlement(raw)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/engine"
	"github.com/paradoxical-io/cassieq-sub001/message"
)

const (
	// maxMessageBytes bounds a message body read from a request.
	maxMessageBytes = 1 << 20

	defaultInvisibility = 30 * time.Second
)

// secondsParam reads a non-negative whole-seconds query parameter.
func secondsParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrBadRequest, name, raw)
	}
	return seconds(name, n)
}

// readBody reads a message body. Bodies are UTF-8 text.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrBadRequest, err)
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: message body is not UTF-8 text", ErrBadRequest)
	}
	return body, nil
}

func messageResponse(d *engine.Delivery) MessageResponse {
	out := MessageResponse{
		Index:         d.Index,
		Message:       string(d.Payload),
		PopReceipt:    d.PopReceipt.String(),
		MessageTag:    d.Tag,
		DeliveryCount: d.DeliveryCount,
	}
	// Rows written through the engine directly may hold any bytes.
	if !utf8.Valid(d.Payload) {
		out.Message = base64.StdEncoding.EncodeToString(d.Payload)
		out.Encoding = EncodingBase64
	}
	return out
}

func (a *API) putMessage(w http.ResponseWriter, r *http.Request) {
	invisible, err := secondsParam(r, "initialInvisibilitySeconds", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	index, err := a.eng.Put(r.Context(), refFrom(r), body, invisible)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PutMessageResponse{Index: index})
}

// nextMessage answers 204 when nothing is deliverable.
func (a *API) nextMessage(w http.ResponseWriter, r *http.Request) {
	visibility, err := secondsParam(r, "invisibilityTimeSeconds", defaultInvisibility)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	d, err := a.eng.Consume(r.Context(), refFrom(r), visibility)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse(d))
}

// ackMessage answers 409 when the receipt is stale.
func (a *API) ackMessage(w http.ResponseWriter, r *http.Request) {
	receipt := message.PopReceipt(r.URL.Query().Get("popReceipt"))
	if receipt == "" {
		a.writeError(w, r, fmt.Errorf("%w: popReceipt is required", ErrBadRequest))
		return
	}

	ok, err := a.eng.Ack(r.Context(), refFrom(r), receipt)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		a.writeError(w, r, cassieq.ErrStaleReceipt)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) updateMessage(w http.ResponseWriter, r *http.Request) {
	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: decode body: %w", ErrBadRequest, err))
		return
	}
	invisible, err := seconds("invisibilityTimeSeconds", req.InvisibilityTimeSeconds)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var payload *[]byte
	if req.Message != nil {
		b := []byte(*req.Message)
		payload = &b
	}

	receipt, err := a.eng.Update(r.Context(), refFrom(r), message.PopReceipt(req.PopReceipt),
		payload, invisible)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateMessageResponse{PopReceipt: receipt.String()})
}

func (a *API) updateMessageByTag(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: index: %w", ErrBadRequest, err))
		return
	}
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		a.writeError(w, r, fmt.Errorf("%w: tag is required", ErrBadRequest))
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	newTag, err := a.eng.UpdateByTag(r.Context(), refFrom(r), index, tag, body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateByTagResponse{MessageTag: newTag})
}

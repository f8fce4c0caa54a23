package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"alerthub/internal/domain"
	"alerthub/internal/permanent"
)

const maxPooledBatchCapacity = 4096

// Reasons attached to permanent decode failures.
const (
	ReasonEmptyPayload   = "empty_payload"
	ReasonInvalidPayload = "invalid_payload"
)

// ErrUnavailable is returned when the submitter has shut down; callers retry elsewhere.
var ErrUnavailable = errors.New("submitter unavailable")

// Submitter admits producer alerts.
// Params: raw alert; enrichment never fails.
// Returns: assigned alert id.
type Submitter interface {
	Submit(ctx context.Context, raw domain.RawAlert) string
}

type stoppable interface {
	Stopped() <-chan struct{}
}

type decodeScratch struct {
	alerts []domain.RawAlert
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{alerts: make([]domain.RawAlert, 0, 16)}
	},
}

// SubmitPayload decodes raw and submits every alert in payload order.
// Params: ctx for critical admission, submitter, and raw JSON body.
// Returns: assigned ids, a permanent decode error, or ErrUnavailable; on error nothing was submitted.
func SubmitPayload(ctx context.Context, submitter Submitter, raw []byte) ([]string, error) {
	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)

	alerts, err := decodePayloadInto(raw, scratch)
	if err != nil {
		return nil, err
	}
	if !available(submitter) {
		return nil, ErrUnavailable
	}
	ids := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		ids = append(ids, submitter.Submit(ctx, alert))
	}
	return ids, nil
}

func available(submitter Submitter) bool {
	lifecycle, ok := submitter.(stoppable)
	if !ok {
		return true
	}
	select {
	case <-lifecycle.Stopped():
		return false
	default:
		return true
	}
}

// decodePayloadInto auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or a non-empty array, and pooled scratch.
// Returns: alerts aliasing scratch or a permanent decode error.
func decodePayloadInto(raw []byte, scratch *decodeScratch) ([]domain.RawAlert, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, permanent.Mark(ReasonEmptyPayload, errors.New("empty payload"))
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeBatchInto(decoder, scratch)
	}
	if payload[0] != '{' {
		return nil, permanent.Markf(ReasonInvalidPayload, "payload must be a JSON object or array")
	}

	var alert domain.RawAlert
	if err := decoder.Decode(&alert); err != nil {
		return nil, permanent.Mark(ReasonInvalidPayload, fmt.Errorf("decode alert: %w", err))
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	alerts := append(scratch.alerts[:0], alert)
	scratch.alerts = alerts
	return alerts, nil
}

func decodeBatchInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.RawAlert, error) {
	alerts := scratch.alerts[:0]
	if err := decoder.Decode(&alerts); err != nil {
		return nil, permanent.Mark(ReasonInvalidPayload, fmt.Errorf("decode alert batch: %w", err))
	}
	if len(alerts) == 0 {
		return nil, permanent.Markf(ReasonEmptyPayload, "alert batch must contain at least one alert")
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.alerts = alerts
	return alerts, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	for i := range scratch.alerts {
		scratch.alerts[i] = domain.RawAlert{}
	}
	if cap(scratch.alerts) > maxPooledBatchCapacity {
		scratch.alerts = make([]domain.RawAlert, 0, 16)
	} else {
		scratch.alerts = scratch.alerts[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or permanent error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return permanent.Mark(ReasonInvalidPayload, fmt.Errorf("decode trailing json: %w", err))
	}
	return permanent.Markf(ReasonInvalidPayload, "unexpected trailing json tokens")
}

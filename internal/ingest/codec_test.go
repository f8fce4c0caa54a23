package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"alerthub/internal/domain"
	"alerthub/internal/permanent"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	alerts  []domain.RawAlert
	stopped chan struct{}
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{stopped: make(chan struct{})}
}

func (s *recordingSubmitter) Submit(_ context.Context, raw domain.RawAlert) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, raw)
	return raw.Message + "-id"
}

func (s *recordingSubmitter) Stopped() <-chan struct{} {
	return s.stopped
}

func (s *recordingSubmitter) submitted() []domain.RawAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RawAlert(nil), s.alerts...)
}

func decodeCopy(body string) ([]domain.RawAlert, error) {
	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	alerts, err := decodePayloadInto([]byte(body), scratch)
	if err != nil {
		return nil, err
	}
	return append([]domain.RawAlert(nil), alerts...), nil
}

func TestDecodePayloadSingleAndBatch(t *testing.T) {
	t.Parallel()

	single, err := decodeCopy(`  {"message":"one","priority":"high","metadata":{"stockLevel":0}} `)
	if err != nil {
		t.Fatalf("decode single: %v", err)
	}
	if len(single) != 1 || single[0].Message != "one" || single[0].Metadata["stockLevel"] != float64(0) {
		t.Fatalf("unexpected single decode: %+v", single)
	}

	batch, err := decodeCopy(`[{"message":"a"},{"message":"b","category":"sales"}]`)
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(batch) != 2 || batch[1].Category != "sales" {
		t.Fatalf("unexpected batch decode: %+v", batch)
	}
}

func TestDecodePayloadRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		body   string
		reason string
	}{
		"empty":          {"   ", ReasonEmptyPayload},
		"empty batch":    {"[]", ReasonEmptyPayload},
		"scalar":         {`"hello"`, ReasonInvalidPayload},
		"broken object":  {`{"message":`, ReasonInvalidPayload},
		"trailing":       {`{"message":"a"} {"message":"b"}`, ReasonInvalidPayload},
		"wrong field":    {`{"message":42}`, ReasonInvalidPayload},
		"non-object row": {`[{"message":"a"}, 7]`, ReasonInvalidPayload},
	}
	for name, tc := range cases {
		_, err := decodeCopy(tc.body)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !permanent.Is(err) || permanent.ReasonOf(err) != tc.reason {
			t.Fatalf("%s: expected permanent %s, got %v", name, tc.reason, err)
		}
	}
}

func TestSubmitPayloadForwardsInOrder(t *testing.T) {
	t.Parallel()

	submitter := newRecordingSubmitter()
	ids, err := SubmitPayload(context.Background(), submitter, []byte(`[{"message":"x"},{"message":"y"}]`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(ids) != 2 || ids[0] != "x-id" || ids[1] != "y-id" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if got := submitter.submitted(); len(got) != 2 || got[0].Message != "x" {
		t.Fatalf("unexpected submissions: %+v", got)
	}
}

func TestSubmitPayloadRefusesStoppedSubmitter(t *testing.T) {
	t.Parallel()

	submitter := newRecordingSubmitter()
	close(submitter.stopped)
	_, err := SubmitPayload(context.Background(), submitter, []byte(`{"message":"late"}`))
	if !errors.Is(err, ErrUnavailable) || permanent.Is(err) {
		t.Fatalf("expected retryable ErrUnavailable, got %v", err)
	}
	if len(submitter.submitted()) != 0 {
		t.Fatalf("nothing must be submitted after stop")
	}
}

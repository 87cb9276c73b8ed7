package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"member-registry/internal/domain"
	"member-registry/internal/notify"
)

func newTracedReferralService(t *testing.T, users ...domain.User) (ReferralService, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := NewReferralService(
		ReferralConfig{AutoActivate: true, Logger: quietLogger(), Tracer: tp.Tracer("test")},
		newFakeUserRepo(users...),
		NewActivityService(&fakeNotificationRepo{}, &fakeAuditRepo{}, quietLogger()),
		&fakeDispatcher{},
		notify.NewComposer(notify.Site{Name: "Chamber", Email: "noreply@chamber.org"}),
	)
	return svc, recorder
}

func TestDecisionSpanAttributes(t *testing.T) {
	svc, recorder := newTracedReferralService(t, applicant())

	_, err := svc.Confirm(context.Background(), "u1", "b@x.com")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "referral.decide", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	require.Equal(t, "u1", attrs["user.id"].AsString())
	require.True(t, attrs["referral.approved"].AsBool())
	require.Equal(t, "second", attrs["referral.slot"].AsString())
	require.False(t, attrs["referral.fully_referred"].AsBool())
}

func TestDecisionSpanRecordsMismatch(t *testing.T) {
	svc, recorder := newTracedReferralService(t, applicant())

	_, err := svc.Reject(context.Background(), "u1", "stranger@x.com")
	require.ErrorIs(t, err, ErrRefereeMismatch)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
}

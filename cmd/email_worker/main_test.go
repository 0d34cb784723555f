package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/oksasatya/go-user-store/pkg/mailer"
)

type recordingAck struct {
	acked, nacked, requeued bool
}

func (a *recordingAck) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func (a *recordingAck) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

type failingSender struct{ err error }

func (s failingSender) Send(context.Context, string, string, string, string) error { return s.err }

func TestDisposition(t *testing.T) {
	transient := errors.New("mailgun 503")
	cases := []struct {
		name        string
		err         error
		msg         amqp.Delivery
		wantRequeue bool
	}{
		{"bad job", fmt.Errorf("%w: missing recipient", mailer.ErrBadJob), amqp.Delivery{}, false},
		{"first failure", transient, amqp.Delivery{}, true},
		{"redelivered classic queue", transient, amqp.Delivery{Redelivered: true}, true},
		{"quorum count below cap", transient, amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int64(2)}}, true},
		{"quorum count at cap", transient, amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int64(maxDeliveries - 1)}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requeue, wait := disposition(tc.err, tc.msg)
			assert.Equal(t, tc.wantRequeue, requeue)
			if requeue {
				assert.Equal(t, retryDelay, wait, "requeue is never immediate")
			}
		})
	}
}

func TestHandle_TransientFailureWaitsBeforeRequeue(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ack := &recordingAck{}
	msg := amqp.Delivery{Acknowledger: ack, Body: []byte(`{"to":"a@x.com","subject":"hi","text":"hi"}`)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // a cancelled context ends the pause early
	handle(ctx, logger, failingSender{err: errors.New("mailgun 503")}, msg)

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
	assert.False(t, ack.acked)
}

func TestHandle_BadJobIsDropped(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ack := &recordingAck{}
	msg := amqp.Delivery{Acknowledger: ack, Body: []byte(`{"subject":"no recipient"}`)}

	handle(context.Background(), logger, failingSender{}, msg)

	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
}

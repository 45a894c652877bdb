package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
	"AgroPulse/pkg/metrics"
)

type fakeIngester struct {
	got []models.ObservationPayload
	err error
}

func (f *fakeIngester) IngestPayloads(_ context.Context, p []models.ObservationPayload) (models.IngestReport, error) {
	f.got = append(f.got, p...)
	return models.IngestReport{Received: len(p), Accepted: len(p)}, f.err
}

func TestKafkaObservationsHandlerDecodes(t *testing.T) {
	cases := map[string]struct {
		msg  string
		want int
	}{
		"envelope": {`{"observations":[{"product":"tomato","market":"Paris","date":"2024-03-01","price":2.5},{"product":"leek","market":"Lyon","date":"2024-03-01","price":"1.2"}]}`, 2},
		"array":    {`[{"product":"tomato","market":"Paris","date":"2024-03-01","price":2.5}]`, 1},
		"single":   {`{"product":"tomato","market":"Paris","origin":"Maroc","date":"2024-03-01","price":2.5}`, 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := &fakeIngester{}
			h := NewKafkaObservationsHandler("agropulse.observations", f, metrics.Nop{}, nil)
			require.NoError(t, h.Handle(context.Background(), []byte(tc.msg)))
			require.Len(t, f.got, tc.want)
			assert.Equal(t, "tomato", f.got[0].Product)
			assert.Equal(t, "2.5", f.got[0].Price.String())
		})
	}
}

func TestKafkaObservationsHandlerErrors(t *testing.T) {
	h := NewKafkaObservationsHandler("t", &fakeIngester{}, metrics.Nop{}, nil)
	assert.Equal(t, "t", h.Topic())
	assert.Error(t, h.Handle(context.Background(), []byte(`{not json`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`   `)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"foo":1}`)))

	// rejected observations are not retried
	rejected := &fakeIngester{err: &models.InvalidObservationError{Rejected: 1}}
	h = NewKafkaObservationsHandler("t", rejected, metrics.Nop{}, nil)
	assert.NoError(t, h.Handle(context.Background(), []byte(`[{"product":"x","market":"y","date":"2024-03-01","price":-1}]`)))

	failing := &fakeIngester{err: errors.New("store down")}
	h = NewKafkaObservationsHandler("t", failing, metrics.Nop{}, nil)
	assert.Error(t, h.Handle(context.Background(), []byte(`[{"product":"x","market":"y","date":"2024-03-01","price":1}]`)))
}

func TestKafkaObservationsHandlerAcceptsSeedEnvelope(t *testing.T) {
	batch := seasonalTomato(5)
	batch[2].Volume = decimal.NewNullDecimal(decimal.NewFromInt(40))
	req := models.IngestRequest{}
	for _, o := range batch {
		req.Observations = append(req.Observations, models.PayloadFromObservation(o))
	}
	b, err := json.Marshal(req)
	require.NoError(t, err)

	f := &fakeIngester{}
	h := NewKafkaObservationsHandler("t", f, metrics.Nop{}, nil)
	require.NoError(t, h.Handle(context.Background(), b))
	require.Len(t, f.got, 5)
	assert.Equal(t, "2024-01-03", f.got[2].Date)
	require.NotNil(t, f.got[2].Volume)
	assert.Equal(t, "40", f.got[2].Volume.String())
}

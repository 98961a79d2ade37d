package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/foodsearch/foodsearch/internal/rebuild"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	requested []string
	all       int
	err       error
}

func (f *fakeRequester) RequestRebuild(locale string) error {
	if f.err != nil {
		return f.err
	}
	f.requested = append(f.requested, locale)
	return nil
}

func (f *fakeRequester) RequestAll() { f.all++ }

func TestTriggerHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("locale", func(t *testing.T) {
		req := &fakeRequester{}
		require.NoError(t, TriggerHandler(req)(ctx, []byte("fr"), []byte(`{"locale_id":"fr"}`)))
		assert.Equal(t, []string{"fr"}, req.requested)
	})

	t.Run("empty locale rebuilds all", func(t *testing.T) {
		req := &fakeRequester{}
		require.NoError(t, TriggerHandler(req)(ctx, nil, []byte(`{"locale_id":" "}`)))
		assert.Equal(t, 1, req.all)
		assert.Empty(t, req.requested)
	})

	t.Run("malformed is acknowledged", func(t *testing.T) {
		req := &fakeRequester{}
		assert.NoError(t, TriggerHandler(req)(ctx, nil, []byte(`not json`)))
		assert.Empty(t, req.requested)
	})

	t.Run("unknown locale is acknowledged", func(t *testing.T) {
		req := &fakeRequester{err: fmt.Errorf("%w: xx", apperrors.ErrUnknownLocale)}
		assert.NoError(t, TriggerHandler(req)(ctx, nil, []byte(`{"locale_id":"xx"}`)))
	})

	t.Run("other errors are returned", func(t *testing.T) {
		req := &fakeRequester{err: errors.New("closed")}
		assert.Error(t, TriggerHandler(req)(ctx, nil, []byte(`{"locale_id":"en"}`)))
	})
}

type fakePublisher struct {
	events []kafka.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, events ...kafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

func TestKafkaReporter(t *testing.T) {
	pub := &fakePublisher{}
	ev := rebuild.Event{ID: "b1", Locale: "de", Version: 7, Outcome: rebuild.OutcomeSuccess, Entries: 3}
	require.NoError(t, NewKafkaReporter(pub).Report(context.Background(), ev))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "de", pub.events[0].Key)
	assert.Equal(t, ev, pub.events[0].Value)

	msgs, err := kafka.Encode(pub.events)
	require.NoError(t, err)
	assert.Contains(t, string(msgs[0].Value), `"outcome":"success"`)
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &fakePublisher{}
	bad := &fakePublisher{err: errors.New("broker down")}
	m := Multi{NewLogReporter(), NewKafkaReporter(bad), NewKafkaReporter(ok)}

	err := m.Report(context.Background(), rebuild.Event{ID: "b2", Locale: "en", Outcome: rebuild.OutcomeFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.events, 1)
}

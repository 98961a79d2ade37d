// Package jobs connects the rebuild coordinator to the outside world:
// food-data-changed messages in, rebuild outcome events out.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/kafka"
)

// DataChanged is published upstream whenever the food records of a locale
// change. An empty LocaleID means every locale.
type DataChanged struct {
	LocaleID string `json:"locale_id"`
}

// Requester is the part of the rebuild coordinator a trigger needs.
type Requester interface {
	RequestRebuild(locale string) error
	RequestAll()
}

// TriggerHandler turns DataChanged messages into rebuild requests.
// Malformed messages and unknown locales are logged and acknowledged so
// they are not redelivered forever.
func TriggerHandler(coord Requester) kafka.Handler {
	log := slog.Default().With("component", "rebuild-trigger")
	return func(ctx context.Context, key, value []byte) error {
		msg, err := kafka.DecodeJSON[DataChanged](value)
		if err != nil {
			log.Warn("discarding malformed trigger", "key", string(key), "error", err)
			return nil
		}
		locale := strings.TrimSpace(msg.LocaleID)
		if locale == "" {
			log.Info("rebuild of all locales requested")
			coord.RequestAll()
			return nil
		}
		if err := coord.RequestRebuild(locale); err != nil {
			if errors.Is(err, apperrors.ErrUnknownLocale) {
				log.Warn("trigger for unconfigured locale ignored", "locale", locale)
				return nil
			}
			return err
		}
		log.Debug("rebuild requested", "locale", locale)
		return nil
	}
}

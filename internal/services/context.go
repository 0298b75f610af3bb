package services

import (
	"context"

	"github.com/sirupsen/logrus"
)

type sweepIDKey struct{}

// WithSweepID tags ctx with the id of the sweep it belongs to
func WithSweepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sweepIDKey{}, id)
}

// SweepID returns the sweep id carried by ctx, if any
func SweepID(ctx context.Context) string {
	id, _ := ctx.Value(sweepIDKey{}).(string)
	return id
}

func entryFor(ctx context.Context, base *logrus.Entry) *logrus.Entry {
	if id := SweepID(ctx); id != "" {
		return base.WithField("sweep_id", id)
	}
	return base
}

// Package ingest feeds messages from an external source into the hub.
package ingest

import (
	"context"

	"go.uber.org/zap"

	"conduit/infra/logger"
	"conduit/service"
)

// Source delivers messages until ctx ends. A message is considered handled
// once fn returns nil.
type Source interface {
	Consume(ctx context.Context, fn func(key, value []byte) error) error
}

// Job publishes every source message into the hub, the message key being
// the topic.
type Job struct {
	src          Source
	hub          *service.Hub
	defaultTopic string
	log          *zap.Logger
}

// New returns an ingest job. Messages without a key are published under
// defaultTopic.
func New(src Source, hub *service.Hub, defaultTopic string, log *zap.Logger) *Job {
	return &Job{
		src:          src,
		hub:          hub,
		defaultTopic: defaultTopic,
		log:          logger.OrNop(log).Named("ingest"),
	}
}

func (j *Job) Run(ctx context.Context) error {
	j.log.Info("started", zap.String("default_topic", j.defaultTopic))
	err := j.src.Consume(ctx, func(key, value []byte) error {
		topic := j.defaultTopic
		if len(key) > 0 {
			topic = string(key)
		}
		env, err := j.hub.Publish(topic, value)
		if err != nil {
			return err
		}
		j.log.Debug("ingested", zap.String("topic", topic), zap.Uint64("seq", env.Seq))
		return nil
	})
	if err != nil {
		j.log.Error("source failed", zap.Error(err))
		return err
	}
	j.log.Info("stopped")
	return nil
}

// Package rabbitmq publishes pipeline progress events to an AMQP topic
// exchange.
//
// ProgressPublisher implements pipeline.EventSink. Every event is published
// as a persistent JSON message with publisher confirms, so Publish returns
// only once the broker acknowledged the message. Routing keys have the form
// <prefix>.<stage>.<status>, for example reelforge.voice.fallback or
// reelforge.job.completed.
package rabbitmq

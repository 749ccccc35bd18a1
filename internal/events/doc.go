// Package events is the in-process Notification Bus for task outcomes.
//
// The coordinator publishes exactly one OutcomeEvent per task lifecycle
// (completed, failed or timeout). Delivery is synchronous and best-effort to
// every listener registered at publish time; there is no persistence or replay.
// The bus is not addressed: listeners filter by subject key themselves, or use
// SubscribeOnce which filters and deregisters after the first match.
//
// The primary components are:
// - OutcomeEvent: the payload carried to listeners
// - Listener: interface for components that react to outcomes
// - Bus: the publish/subscribe registry
// - RedisBridge: a listener that forwards outcomes to a Redis channel
package events

// Copyright 2024-2026 Aiku AI

// Package relay implements a Telegram feedback relay: every private-chat
// user is mapped to a dedicated forum topic inside one shared supergroup,
// private messages are forwarded into that topic, and operator replies in
// the topic are copied back to the user.
//
// # Core Types
//
// [ThreadRegistry] owns the durable user→topic mapping and the ban
// sentinels, stored in a [KeyValueStore] (Redis in production).
//
// [RelayEngine] moves a single message across the boundary in either
// direction. On the user→group path it self-heals when the assigned topic
// has been deleted out-of-band: it detects both the explicit
// thread-not-found failure and the silent case where Telegram accepts the
// forward but drops it into the General topic, then rebuilds the mapping
// and retries exactly once.
//
// [AlbumAggregator] coalesces the burst of separate updates that make up
// one media album into a single sendMediaGroup call, using a
// debounce-by-timestamp scheme: every part schedules its own deferred
// flush, and only the task whose captured stamp still matches the buffer
// at wake time emits the batch.
//
// [AdminCommandProcessor] applies the one-line operator commands
// (/close, /open, /ban, /unban, /info) posted inside a topic.
//
// [Dispatcher] classifies inbound webhook updates and routes them to the
// engine, and [Server] is the gin HTTP surface receiving them.
package relay

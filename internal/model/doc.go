// Package model defines the domain types shared by the store, the queues,
// and the jobs: chat and message identifiers, chats with their attributes,
// messages, system messages, and receipt statuses.
package model

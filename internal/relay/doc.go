// Package relay is the delivery core of relaybot.
//
// A Registry holds the destinations the bot is a member of. An Engine fans a
// source post out to every destination, and each failed send lands in the
// FailureQueue. A RetryScheduler drains that queue periodically until the
// retry budget runs out. The Tracker keeps the Registry in step with
// membership changes, and the Gate decides which chats may run which command.
//
// All destination ids are sign-normalized (see Normalize) before they are
// stored or compared.
package relay

// Package settlementservice implements the funding settlement core of Platefund.
//
// The module owns allocation, delivery, escrow audit and payment ledger tables
// and exposes HTTP command/query handlers together with worker entrypoints for
// chain event reconciliation and outbox relay.
package settlementservice

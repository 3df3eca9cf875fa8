// Package paymentgatewayservice handles signed payment gateway callbacks for
// Platefund. Verified callbacks advance the shared payment ledger forward and
// are retained as an append-only audit trail.
package paymentgatewayservice

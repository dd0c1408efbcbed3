// Package walletmon and its sub-packages implement the backend services to monitor the balances of externally-held
// wallet addresses and notify interested users when a balance changes.
/*
walletmon provides you with two microservices:

1) an api microservice (package api) that implements a RESTful API for user requests such as registering tracked
 accounts, listing them with their last observed balances, managing user approval and administrator roles, and
 toggling notification subscriptions.

2) a reconciler microservice (package reconciler) that periodically fetches the current balance of every tracked
 account, compares it against the last observed value and fans out notifications to the eligible subscribers
 before persisting the new balance.

Architecture

The api and reconciler services communicate via a message broker. The api service publishes refresh requests so
users can ask for an immediate reconciliation pass outside the regular schedule. The reconciler publishes one
notification message per recipient to the broker; a chat gateway (outside this repository) consumes the queue and
delivers the text to the end user. The message broker is implemented as a product agnostic layer (package lib/msg)
and is configured via a JSON config file at service startup.

Both services share a database holding the account registry and the access control records. Its layered
implementation (package lib/store) provides a database product agnostic interface with MongoDB and PostgreSQL
backends.

Balances are read from a ledger explorer HTTP API through the fetcher layer (package lib/fetch), so other balance
sources can be added without touching the reconciliation core.

Access control follows an approval gate: users are created pending on first contact and an administrator must
approve them before they can use any functionality. One seed administrator identity, taken from configuration, is
re-asserted on every startup. Increase notifications are broadcast to all subscribers; decrease notifications are
delivered to administrator subscribers only.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.
*/
package walletmon

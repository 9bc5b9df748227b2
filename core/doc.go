// Package core holds the marketplace domain: the integration catalog
// contract, installations and their lifecycle, the outbound API gateway,
// webhook dispatch and health probing. Storage, transport, auth and queue
// implementations live in sibling packages and plug in through the
// interfaces declared in contracts.go; core never imports them.
package core

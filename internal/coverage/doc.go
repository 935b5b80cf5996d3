// Package coverage uploads coverage reports collected from job artifacts to
// an external coverage service and manages the access token for it. Tokens
// are obtained through a device-code login: the daemon host often has no
// browser, so the flow prints a verification URL plus a short user code and
// polls the token endpoint until the user confirms.
package coverage

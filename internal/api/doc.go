// Package api implements the HTTP handlers for the public REST surface:
// account and session management, channel CRUD, OAuth account linking, and
// the live broadcast lifecycle endpoints.
package api

// Package integration provides end-to-end tests of Homebase42 against a mock
// Home Assistant server. This file re-exports types from pkg/testutil.
package integration

import (
	"homebase42/pkg/testutil"
)

// Type aliases for the shared mock server types
type MockHAServer = testutil.MockHAServer
type EntityState = testutil.EntityState
type PublishedState = testutil.PublishedState

// NewMockHAServer creates a new mock HA server
var NewMockHAServer = testutil.NewMockHAServer

// Helper function aliases
var FindPublished = testutil.FindPublished
var CountPublished = testutil.CountPublished

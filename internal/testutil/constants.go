// Package testutil provides shared constants and fakes for restbricks tests.
package testutil

// Test Error Messages
const (
	// TestError is a generic error message for test error scenarios.
	TestError = "test error"

	// TestConnectionRefused is the common network error message for connection failures.
	TestConnectionRefused = "connection refused"
)

// Test Consumer Configuration
//
// The consumer every executor scenario is built for.
const (
	TestBaseAddress  = "http://test.source.com"
	TestResource     = "resource"
	TestResourcePath = "api/"

	// TestSource is TestBaseAddress + TestResourcePath + TestResource.
	TestSource = "http://test.source.com/api/resource"
)

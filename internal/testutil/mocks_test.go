package testutil_test

// The mocks in this package only record calls and return configured values;
// their behavior is exercised by the tests that inject them (see the engine
// tests in pkg/batch), so no dedicated tests exist here.

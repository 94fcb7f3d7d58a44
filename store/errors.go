package store

import "errors"

// errClosed is returned by an append attempted after Close.
var errClosed = errors.New("store: closed")

// errOverflow is returned when an append would exceed the store's
// configured byte budget; the caller (Connection.watchSaveErrs) must
// treat this as fatal and dispose the connection.
var errOverflow = errors.New("store: byte budget exceeded")

package conv

import "errors"

// ErrNoDeterministicAlgorithm is returned when the caller demanded
// deterministic execution but benchmark search found no successful
// candidate with the determinism flag set. The request is never
// silently downgraded to a non-deterministic algorithm.
var ErrNoDeterministicAlgorithm = errors.New("no deterministic convolution algorithms available")

// ErrUnsupported is returned when no dispatch branch can execute the
// requested parameter combination.
var ErrUnsupported = errors.New("unsupported convolution parameters")

package monitor

import "errors"

// Error taxonomy shared by the pipeline stages. Classification misses are not
// errors and have no sentinel.
var (
	// ErrDecode marks a payload that is not parseable at all or exceeds the
	// recursive search bounds.
	ErrDecode = errors.New("decode error")
	// ErrShapeMismatch is handled inside the decoder fallback chain.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrPersistence marks a rolled back store write.
	ErrPersistence = errors.New("persistence failure")
	// ErrReplay marks a network or status failure while replaying a target.
	ErrReplay = errors.New("replay failure")
	// ErrNoRecords marks a replay that decoded but produced no metric items.
	ErrNoRecords = errors.New("no records")
	// ErrStoreInit is the only error fatal to the process.
	ErrStoreInit = errors.New("store initialization failure")
)

package runconfig

import "errors"

var (
	ErrUnknownKind   = errors.New("unknown configuration key")
	ErrInvalidOp     = errors.New("invalid configuration operation")
	ErrInvalidMount  = errors.New("invalid mount specification")
	ErrUnknownPreset = errors.New("unknown preset")
	ErrPresetFile    = errors.New("failed to load preset file")
	ErrEncode        = errors.New("failed to encode configuration")
	ErrDecode        = errors.New("failed to decode configuration")
)

package ingest

import "errors"

var (
	ErrEmptyUpload       = errors.New("upload contains no lines")
	ErrInvalidFileName   = errors.New("invalid file name")
	ErrInvalidExternalID = errors.New("invalid external id")
	ErrLineBreakInLine   = errors.New("line contains a line break")
)

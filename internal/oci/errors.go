package oci

import "errors"

var (
	ErrBackend       = errors.New("backend error")
	ErrImageNotFound = errors.New("image not found")
	ErrCommitted     = errors.New("working container already committed or destroyed")
	ErrUnknownOption = errors.New("unknown run option")

	ErrContainerExists = errors.New("container already exists")
)

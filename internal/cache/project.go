package cache

import (
	"errors"

	"github.com/wscache/wscache/internal/protoerr"
)

// Project maps a cache-layer error onto the protocol-layer taxonomy at
// the repository boundary, per spec.md §4.9 and §9's example mapping
// (DatabaseError → Internal; LockAcquisitionFailed → Internal with a
// retry hint; InvalidQuery → InvalidParameter). A nil err projects to nil.
func Project(err error) *protoerr.Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if !errors.As(err, &ce) {
		return protoerr.Wrap(protoerr.Internal, "unclassified cache error", err)
	}

	switch ce.Kind {
	case KindInvalidQuery, KindInvalidInput:
		return protoerr.Wrap(protoerr.InvalidParameter, ce.Message, err)
	case KindLockAcquisitionFailed:
		return protoerr.WrapRetriable(protoerr.Internal, ce.Message, err)
	default:
		return protoerr.Wrap(protoerr.Internal, ce.Message, err)
	}
}

// NotFound builds the protocol-layer not-found error for a point-get miss
// — a repository Get returning found=false is never itself a cache Error,
// so tool handlers construct this directly rather than via Project.
func NotFound(detail string) *protoerr.Error {
	return protoerr.New(protoerr.NotFound, detail)
}

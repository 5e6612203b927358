package builder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"botbuilder/internal/ai"
	"botbuilder/internal/execution"
)

// ErrorKind classifies a stage failure.
type ErrorKind string

const (
	KindOracleParse       ErrorKind = "oracle_parse"
	KindOracleContent     ErrorKind = "oracle_content"
	KindOracleUnavailable ErrorKind = "oracle_unavailable"
	KindRuntimeOperation  ErrorKind = "runtime_operation"
	KindStoreIO           ErrorKind = "store_io"
	KindNetwork           ErrorKind = "network"
	KindUserInput         ErrorKind = "user_input"
	KindDebugLimit        ErrorKind = "debug_limit"
	KindInvalidTransition ErrorKind = "invalid_transition"
)

// ErrFinished is returned by Step once the machine has terminated.
var ErrFinished = errors.New("builder: session already finished")

// StageError is the structured failure of one stage.
type StageError struct {
	Stage   Stage
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// UserMessage is the short explanation shown instead of the raw error.
func (e *StageError) UserMessage() string {
	switch e.Kind {
	case KindOracleParse:
		return "the model's answer could not be understood"
	case KindOracleContent:
		return "the model's answer was incomplete (" + e.Message + ")"
	case KindOracleUnavailable:
		return "the model is not reachable right now"
	case KindNetwork:
		return "a network error occurred"
	case KindRuntimeOperation:
		return "Docker reported an error (" + e.Message + ")"
	case KindStoreIO:
		return "project files could not be accessed"
	case KindUserInput:
		return "no usable answer was received"
	case KindDebugLimit:
		return "the bot still has problems after the maximum number of fix attempts"
	}
	return e.Message
}

func stageErr(stage Stage, kind ErrorKind, msg string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Message: msg, Err: err}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// oracleErr classifies a failure from an oracle call or from decoding its
// reply. Context errors are returned unchanged.
func oracleErr(stage Stage, err error) error {
	if isContextErr(err) {
		return err
	}
	var perr *ai.ParseError
	if errors.As(err, &perr) {
		return stageErr(stage, KindOracleParse, "reply is not JSON", err)
	}
	var cerr *ai.ContentError
	if errors.As(err, &cerr) {
		return stageErr(stage, KindOracleContent, cerr.Field+" "+cerr.Reason, err)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return stageErr(stage, KindNetwork, "oracle request failed", err)
	}
	return stageErr(stage, KindOracleUnavailable, "oracle call failed", err)
}

func runtimeErr(stage Stage, err error) error {
	if isContextErr(err) {
		return err
	}
	msg := "container operation failed"
	var opErr *execution.OpError
	if errors.As(err, &opErr) {
		msg = opErr.Op + " " + string(opErr.Kind)
	}
	return stageErr(stage, KindRuntimeOperation, msg, err)
}

func storeErr(stage Stage, msg string, err error) error {
	if isContextErr(err) {
		return err
	}
	return stageErr(stage, KindStoreIO, msg, err)
}

func inputErr(stage Stage, err error) error {
	if isContextErr(err) {
		return err
	}
	return stageErr(stage, KindUserInput, "reading the answer failed", err)
}

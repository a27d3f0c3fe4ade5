package actions

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WorkflowDataIdentifier is hashed into the tag that prefixes every envelope.
const WorkflowDataIdentifier = "TILEPMONY_WORKFLOW_DATA_V1"

// WorkflowDataTag is keccak256(WorkflowDataIdentifier).
var WorkflowDataTag = crypto.Keccak256Hash([]byte(WorkflowDataIdentifier))

var (
	errEnvelopeTooShort = errors.New("workflow data shorter than its tag")
	errEnvelopeTag      = errors.New("workflow data tag mismatch")
)

// EncodeWorkflowData serializes actions as tag || abi(tuple{actions}).
func EncodeWorkflowData(actions []Action) ([]byte, error) {
	encoded, err := workflowDataArgs.Pack(workflowDataTuple{Actions: toTuples(actions)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow data: %w", err)
	}

	envelope := make([]byte, 0, common.HashLength+len(encoded))
	envelope = append(envelope, WorkflowDataTag.Bytes()...)

	return append(envelope, encoded...), nil
}

// DecodeWorkflowData reverses EncodeWorkflowData. Every failure is a decoding error.
func DecodeWorkflowData(data []byte) ([]Action, error) {
	if len(data) < common.HashLength {
		return nil, failure.Decoding("decode workflow data", errEnvelopeTooShort)
	}

	if !bytes.Equal(data[:common.HashLength], WorkflowDataTag.Bytes()) {
		return nil, failure.Decoding("decode workflow data", errEnvelopeTag)
	}

	values, err := workflowDataArgs.Unpack(data[common.HashLength:])
	if err != nil {
		return nil, failure.Decoding("decode workflow data", err)
	}

	if len(values) != 1 {
		return nil, failure.Decoding("decode workflow data", fmt.Errorf("expected 1 value, got %d", len(values)))
	}

	tuple, err := convertWorkflowData(values[0])
	if err != nil {
		return nil, failure.Decoding("decode workflow data", err)
	}

	actions, err := fromTuples(tuple.Actions)
	if err != nil {
		return nil, failure.Decoding("decode workflow data", err)
	}

	return actions, nil
}

func convertWorkflowData(value any) (tuple *workflowDataTuple, err error) {
	// abi.ConvertType panics when the shapes do not line up.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected workflow data shape: %v", r)
		}
	}()

	converted, ok := abi.ConvertType(value, new(workflowDataTuple)).(*workflowDataTuple)
	if !ok {
		return nil, errors.New("unexpected workflow data shape")
	}

	return converted, nil
}

// package decode provides decoding of JSON-RPC requests made to
// EVM chain endpoints and helpers for extracting the block
// reference (fixed historical number or moving tag) from the
// params of methods that accept one
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	cosmosmath "cosmossdk.io/math"
)

// These block tags are special strings used to reference blocks in JSON-RPC
// see https://ethereum.org/en/developers/docs/apis/json-rpc/#default-block
const (
	BlockTagLatest    = "latest"
	BlockTagPending   = "pending"
	BlockTagEarliest  = "earliest"
	BlockTagFinalized = "finalized"
	BlockTagSafe      = "safe"
	// "empty" is not in the spec, it is our encoding for requests made with a nil block tag param.
	BlockTagEmpty = "empty"
)

// Errors that might result from decoding parts or the whole of
// an EVM RPC request
var (
	ErrInvalidEthAPIRequest    = errors.New("request is not valid for the eth api")
	ErrNoBlockReferenceParam   = errors.New("request method does not accept a block reference param")
	ErrInvalidBlockReference   = errors.New("request contains an invalid block reference param")
	ErrInvalidLogFilterParam   = errors.New("request contains an invalid log filter param")
	ErrMissingBlockRefPosition = errors.New("request params do not extend to the method's block reference position")
)

// Mapping of the position of the block reference param for a given method name.
// Balance, code, storage and proof lookups take the reference as their final
// positional argument, a generic call takes it second, and block-by-number
// plus the per-block count lookups take it first.
var MethodNameToBlockRefParamIndex = map[string]int{
	"eth_getBalance":                          1,
	"eth_getCode":                             1,
	"eth_getStorageAt":                        2,
	"eth_getProof":                            2,
	"eth_call":                                1,
	"eth_getBlockByNumber":                    0,
	"eth_getBlockTransactionCountByNumber":    0,
	"eth_getUncleCountByBlockNumber":          0,
	"eth_getTransactionByBlockNumberAndIndex": 0,
	"eth_getUncleByBlockNumberAndIndex":       0,
}

// Mapping of string tag values used in the eth api to
// normalized int values that can be stored as the block number
// associated with the request
// see https://ethereum.org/en/developers/docs/apis/json-rpc/#default-block
var BlockTagToNumberCodec = map[string]int64{
	BlockTagLatest:    -1,
	BlockTagPending:   -2,
	BlockTagEarliest:  -3,
	BlockTagFinalized: -4,
	BlockTagSafe:      -5,
	// "empty" is not part of the evm json-rpc spec
	// it is our encoding for when no parameter is passed in as a block tag param
	// usually, clients interpret an empty block tag to mean "latest"
	BlockTagEmpty: -6,
}

// EVMRPCRequestEnvelope wraps expected values present in a request
// to the RPC endpoint for an EVM node API
// https://ethereum.org/en/developers/docs/apis/json-rpc/
type EVMRPCRequestEnvelope struct {
	// version of the RPC spec being used
	// https://www.jsonrpc.org/specification
	JSONRPCVersion string `json:"jsonrpc"`
	ID             interface{}
	Method         string
	Params         []interface{}
}

// DecodeEVMRPCRequest attempts to decode the provided bytes into
// an EVMRPCRequestEnvelope for use by the service to classify the
// request and derive its cache key, returning the decoded request
// and error (if any)
func DecodeEVMRPCRequest(body []byte) (*EVMRPCRequestEnvelope, error) {
	var request EVMRPCRequestEnvelope

	if err := json.Unmarshal(body, &request); err != nil {
		return nil, err
	}

	if request.Method == "" {
		return nil, ErrInvalidEthAPIRequest
	}

	return &request, nil
}

// MethodHasBlockRefParam checks if the method accepts a block reference param
// If it does, one can safely call ParseBlockRefFromParams for the request
func MethodHasBlockRefParam(method string) bool {
	_, exists := MethodNameToBlockRefParamIndex[method]
	return exists
}

// IsFixedBlockNumber returns true when the encoded block reference
// points at a specific historical block rather than a moving tag
func IsFixedBlockNumber(encodedBlockNumber int64) bool {
	return encodedBlockNumber >= 0
}

// ParseBlockRefFromParams extracts the block reference for the method,
// returning the block number for fixed references, the negative codec
// value for moving tags, and error (if any)
func ParseBlockRefFromParams(methodName string, params []interface{}) (int64, error) {
	paramIndex, exists := MethodNameToBlockRefParamIndex[methodName]

	if !exists {
		return 0, ErrNoBlockReferenceParam
	}

	if paramIndex >= len(params) {
		return 0, ErrMissingBlockRefPosition
	}

	return parseBlockRef(params[paramIndex])
}

// LogFilterBlockRange wraps the range bounds of an eth_getLogs filter
type LogFilterBlockRange struct {
	FromBlock int64
	ToBlock   int64
}

// ParseLogFilterBlockRange extracts the normalized from and to block
// references from the filter object param of an eth_getLogs style
// request, returning the range and error (if any).
// Absent bounds decode as the empty tag since clients interpret a
// missing bound as "latest".
func ParseLogFilterBlockRange(params []interface{}) (LogFilterBlockRange, error) {
	if len(params) < 1 {
		return LogFilterBlockRange{}, ErrInvalidLogFilterParam
	}

	filter, isObject := params[0].(map[string]interface{})
	if !isObject {
		return LogFilterBlockRange{}, ErrInvalidLogFilterParam
	}

	fromBlock, err := parseBlockRef(filter["fromBlock"])
	if err != nil {
		return LogFilterBlockRange{}, err
	}

	toBlock, err := parseBlockRef(filter["toBlock"])
	if err != nil {
		return LogFilterBlockRange{}, err
	}

	return LogFilterBlockRange{FromBlock: fromBlock, ToBlock: toBlock}, nil
}

// parseBlockRef normalizes a single block reference value to the
// block number it points at or the codec value for moving tags
func parseBlockRef(param interface{}) (int64, error) {
	// capture requests made with empty block tag params
	if param == nil {
		return BlockTagToNumberCodec[BlockTagEmpty], nil
	}

	tag, isString := param.(string)

	if !isString {
		return 0, fmt.Errorf("%w: %+v", ErrInvalidBlockReference, param)
	}

	blockNumber, exists := BlockTagToNumberCodec[tag]

	if exists {
		return blockNumber, nil
	}

	if strings.HasPrefix(tag, "0x") {
		parsed, err := hexutil.DecodeUint64(tag)
		if err != nil {
			return 0, fmt.Errorf("%w: unable to parse quantity %s: %v", ErrInvalidBlockReference, tag, err)
		}

		// quantities above MaxInt64 would wrap negative and collide
		// with the moving tag codec values
		if parsed > math.MaxInt64 {
			return 0, fmt.Errorf("%w: quantity %s exceeds the valid block number range", ErrInvalidBlockReference, tag)
		}

		return int64(parsed), nil
	}

	spaceint, valid := cosmosmath.NewIntFromString(tag)
	if !valid {
		return 0, fmt.Errorf("%w: unable to parse tag %s to integer", ErrInvalidBlockReference, tag)
	}

	// Int64() panics on values outside the int64 range, which
	// NewIntFromString happily accepts up to 2^256
	if !spaceint.IsInt64() {
		return 0, fmt.Errorf("%w: tag %s exceeds the valid block number range", ErrInvalidBlockReference, tag)
	}

	return spaceint.Int64(), nil
}
